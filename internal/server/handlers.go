package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/KaramelBytes/abverdict/internal/analysis"
	"github.com/KaramelBytes/abverdict/internal/commentary"
	"github.com/KaramelBytes/abverdict/internal/config"
	"github.com/KaramelBytes/abverdict/internal/query"
	"github.com/gin-gonic/gin"
)

// maxUpload bounds uploaded request and config files.
const maxUpload = 4 << 20

type comparisonView struct {
	CohortColumn string            `json:"cohort_column"`
	Control      string            `json:"control,omitempty"`
	Cohorts      []string          `json:"cohorts"`
	Fallback     bool              `json:"fallback"`
	Reason       string            `json:"reason,omitempty"`
	Rows         []analysis.Record `json:"rows"`
	CohortTable  []analysis.Row    `json:"cohort_table"`
}

func viewOf(c *analysis.Comparison) comparisonView {
	v := comparisonView{
		CohortColumn: c.CohortColumn,
		Control:      c.Control,
		Cohorts:      c.Cohorts,
		Fallback:     c.Fallback,
		Reason:       c.Reason,
		Rows:         c.Records(),
		CohortTable:  c.CohortTable().Records(),
	}
	if v.Cohorts == nil {
		v.Cohorts = []string{}
	}
	return v
}

type segmentView struct {
	Segment string            `json:"segment"`
	Key     map[string]string `json:"key"`
	comparisonView
}

func segmentViews(segs []analysis.SegmentComparison) []segmentView {
	out := make([]segmentView, 0, len(segs))
	for _, s := range segs {
		out = append(out, segmentView{Segment: s.Name(), Key: s.Segment.Key(), comparisonView: viewOf(s.Comparison)})
	}
	return out
}

type compareResponse struct {
	Overall    comparisonView `json:"overall"`
	Dimensions []string       `json:"dimensions,omitempty"`
	Segments   []segmentView  `json:"segments,omitempty"`
}

type analyzeResponse struct {
	*commentary.OverallAnalysis
	Comparison comparisonView `json:"comparison"`
}

type deepDiveResponse struct {
	Segments          []commentary.DeepDiveSegment `json:"segments"`
	OverallCommentary []string                     `json:"overall_commentary"`
	Comparisons       []segmentView                `json:"comparisons"`
}

// compareRequest is the body of /api/compare and /api/deep-dive-query.
type compareRequest struct {
	RequestJSON json.RawMessage `json:"request_json" binding:"required"`
	System      string          `json:"system"`
	Dimensions  []string        `json:"dimensions"`
}

func (r compareRequest) query() (query.Request, error) {
	return query.ParseRequest(r.RequestJSON)
}

func handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

func (s *Server) handleAnalyzeRequest(c *gin.Context) {
	system := strings.TrimSpace(c.PostForm("system"))
	if system == "" {
		badRequest(c, "Form field 'system' is required.", nil)
		return
	}
	fh, err := c.FormFile("request_file")
	if err != nil {
		badRequest(c, "Form file 'request_file' is required.", err)
		return
	}
	data, err := readUpload(fh)
	if err != nil {
		badRequest(c, "Could not read uploaded file.", err)
		return
	}
	req, err := query.ParseRequest(data)
	if err != nil {
		badRequest(c, "Invalid JSON file uploaded.", err)
		return
	}

	out, err := s.pipeline.Analyze(c.Request.Context(), req, system)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, analyzeResponse{OverallAnalysis: out.Commentary, Comparison: viewOf(out.Result.Comparison)})
}

func (s *Server) handleCompare(c *gin.Context) {
	var body compareRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body.", err)
		return
	}
	req, err := body.query()
	if err != nil {
		badRequest(c, "Field 'request_json' must be a JSON object.", err)
		return
	}
	res, err := s.pipeline.Compare(c.Request.Context(), req, body.Dimensions)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, compareResponse{
		Overall:    viewOf(res.Comparison),
		Dimensions: res.Dimensions,
		Segments:   segmentViews(res.Segments),
	})
}

func (s *Server) handleDeepDive(c *gin.Context) {
	var body compareRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body.", err)
		return
	}
	if strings.TrimSpace(body.System) == "" {
		badRequest(c, "Field 'system' is required.", nil)
		return
	}
	req, err := body.query()
	if err != nil {
		badRequest(c, "Field 'request_json' must be a JSON object.", err)
		return
	}
	out, err := s.pipeline.DeepDive(c.Request.Context(), req, body.System, body.Dimensions)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, deepDiveResponse{
		Segments:          out.Commentary.Segments,
		OverallCommentary: out.Commentary.OverallCommentary,
		Comparisons:       segmentViews(out.Result.Segments),
	})
}

func (s *Server) handleUploadConfig(c *gin.Context) {
	if s.store == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Config store not configured", "details": "no config directory"})
		return
	}
	// read and validate everything before writing anything
	files := make(map[config.DocumentName][]byte, len(config.DocumentNames))
	for _, name := range config.DocumentNames {
		fh, err := c.FormFile(string(name))
		if err != nil {
			configUploads.WithLabelValues("invalid").Inc()
			badRequest(c, fmt.Sprintf("Form file '%s' is required.", name), err)
			return
		}
		if !strings.HasSuffix(fh.Filename, ".yaml") {
			configUploads.WithLabelValues("invalid").Inc()
			badRequest(c, fmt.Sprintf("%s is not a .yaml file", fh.Filename), nil)
			return
		}
		data, err := readUpload(fh)
		if err != nil {
			badRequest(c, "Could not read uploaded file.", err)
			return
		}
		if _, err := config.ParseDocument(name, data); err != nil {
			configUploads.WithLabelValues("invalid").Inc()
			badRequest(c, fmt.Sprintf("%s is not a valid %s document", fh.Filename, name.FileName()), err)
			return
		}
		files[name] = data
	}
	if err := s.store.SaveAll(files); err != nil {
		var de *config.DocumentError
		if errors.As(err, &de) {
			badRequest(c, "Invalid configuration document.", err)
			return
		}
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Could not save configuration", "details": err.Error()})
		return
	}
	configUploads.WithLabelValues("ok").Inc()
	s.logger.Info("configuration uploaded", "dir", s.store.Dir())
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > maxUpload {
		return nil, fmt.Errorf("%s exceeds %d bytes", fh.Filename, maxUpload)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxUpload))
}

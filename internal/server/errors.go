package server

import (
	"errors"
	"net/http"

	"github.com/KaramelBytes/abverdict/internal/analysis"
	"github.com/KaramelBytes/abverdict/internal/commentary"
	"github.com/KaramelBytes/abverdict/internal/pipeline"
	"github.com/gin-gonic/gin"
)

// statusFor maps pipeline errors to HTTP status codes and a short message.
func statusFor(err error) (int, string) {
	var (
		nde *analysis.NoDimensionsError
		mce *analysis.MissingColumnError
		mte *analysis.MalformedTreeError
		fe  *pipeline.FetchError
		ce  *commentary.Error
	)
	switch {
	case errors.As(err, &nde):
		return http.StatusBadRequest, "No dimensions provided for deep dive"
	case errors.As(err, &mce):
		return http.StatusBadRequest, "Dimension not present in query result"
	case errors.As(err, &mte):
		return http.StatusBadGateway, "Query service returned a malformed result"
	case errors.As(err, &fe):
		return http.StatusBadGateway, "Query service request failed"
	case errors.Is(err, pipeline.ErrNoCommentary):
		return http.StatusServiceUnavailable, "LLM commentary is not configured"
	case errors.As(err, &ce):
		return http.StatusInternalServerError, "LLM analysis failed"
	}
	return http.StatusInternalServerError, "Analysis failed"
}

func abortWithError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "details": err.Error()})
}

func badRequest(c *gin.Context, msg string, err error) {
	details := msg
	if err != nil {
		_ = c.Error(err)
		details = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "details": details})
}

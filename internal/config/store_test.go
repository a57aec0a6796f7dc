package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KaramelBytes/abverdict/internal/analysis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const metricYAML = `metrics:
  - name: Bid Price (HB Rendered Ad)
    definition: Average winning bid
    format: currency
  - name: Bidder Win Rate (1K)
    format: decimal2
  - name: Impressions
`

func writeDoc(t *testing.T, dir string, name DocumentName, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name.FileName()), []byte(body), 0o644))
}

func TestDocStoreLoad(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, DocMetricConfig, metricYAML)
	writeDoc(t, dir, DocSystemConfig, "important_metrics:\n  - Impressions\n")
	writeDoc(t, dir, DocSystemDefinition, "prebid:\n  description: header bidding\n")

	s := NewDocStore(dir, nil)
	docs, err := s.Load()
	require.NoError(t, err)

	require.Len(t, docs.Metrics.Metrics, 3)
	assert.Equal(t, "Average winning bid", docs.Metrics.DefinitionText()["Bid Price (HB Rendered Ad)"])
	assert.Contains(t, docs.SystemDefinition, "prebid")
	assert.Nil(t, docs.DeepDive, "missing document stays zero")

	tracked := docs.TrackedMetrics()
	names := make([]string, len(tracked))
	for i, m := range tracked {
		names[i] = m.Name
	}
	assert.Equal(t, []string{"Impressions", "Bid Price (HB Rendered Ad)", "Bidder Win Rate (1K)", analysis.NetProfitColumn, analysis.CostColumn}, names)
	assert.Equal(t, analysis.FormatCurrency, tracked[1].Format)
}

func TestDocStoreDefaultsWithoutDocuments(t *testing.T) {
	docs, err := NewDocStore(t.TempDir(), nil).Load()
	require.NoError(t, err)
	assert.Equal(t, analysis.DefaultMetrics(), docs.TrackedMetrics())
}

func TestDocStoreRejectsInvalid(t *testing.T) {
	cases := map[DocumentName]string{
		DocMetricConfig:     "metrics:\n  - definition: no name\n",
		DocSystemConfig:     "important_metrics:\n  - \"\"\n",
		DocSystemDefinition: "- just\n- a list\n",
		DocDeepDiveConfig:   "key: [unterminated\n",
	}
	for name, body := range cases {
		t.Run(string(name), func(t *testing.T) {
			dir := t.TempDir()
			writeDoc(t, dir, name, body)
			_, err := NewDocStore(dir, nil).Load()
			var de *DocumentError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, name, de.Name)
		})
	}
}

func TestDocStoreSaveInvalidatesCache(t *testing.T) {
	dir := t.TempDir()
	s := NewDocStore(dir, nil)
	first, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, first.System.ImportantMetrics)

	require.NoError(t, s.Save(DocSystemConfig, []byte("important_metrics: [Profit]\n")))
	second, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"Profit"}, second.System.ImportantMetrics)

	err = s.Save(DocMetricConfig, []byte("metrics:\n  - format: currency\n"))
	var de *DocumentError
	require.ErrorAs(t, err, &de)
	_, statErr := os.Stat(filepath.Join(dir, DocMetricConfig.FileName()))
	assert.True(t, os.IsNotExist(statErr), "invalid document must not be written")

	require.Error(t, s.Save(DocumentName("other"), []byte("a: 1\n")))
}

func TestDocStoreSaveAllIsAllOrNothing(t *testing.T) {
	dir := t.TempDir()
	s := NewDocStore(dir, nil)
	docs := map[DocumentName][]byte{
		DocMetricConfig:     []byte("metrics:\n  - name: Profit\n    format: $\n"),
		DocSystemConfig:     []byte("important_metrics: [Profit]\n"),
		DocSystemDefinition: []byte("bidder: {}\n"),
		DocDeepDiveConfig:   []byte("focus: regions\n"),
	}

	// a directory in place of the last document makes its write fail
	blocked := filepath.Join(dir, DocDeepDiveConfig.FileName())
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "keep"), 0o755))
	require.Error(t, s.SaveAll(docs))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the blocking directory remains")
	assert.Equal(t, DocDeepDiveConfig.FileName(), entries[0].Name())

	require.NoError(t, os.RemoveAll(blocked))
	require.NoError(t, s.SaveAll(docs))
	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, analysis.FormatCurrency, loaded.Metrics.Definitions()[0].Format)
	assert.Equal(t, "regions", loaded.DeepDive["focus"])
}

func TestMetricFormatSpellings(t *testing.T) {
	for _, f := range []string{"$", "Currency", "USD", "Decimal2", "raw"} {
		_, err := ParseDocument(DocMetricConfig, []byte("metrics:\n  - name: Profit\n    format: \""+f+"\"\n"))
		assert.NoError(t, err, f)
	}
	_, err := ParseDocument(DocMetricConfig, []byte("metrics:\n  - name: Profit\n    format: percent\n"))
	var de *DocumentError
	require.ErrorAs(t, err, &de)
}

func TestDocStoreInvalidateDuringReadIsNotCached(t *testing.T) {
	dir := t.TempDir()
	s := NewDocStore(dir, nil)

	// a read that began before an invalidation must not repopulate the cache
	_, gen := s.snapshot()
	stale, err := s.read()
	require.NoError(t, err)
	s.Invalidate()
	s.fill(stale, gen)
	cached, _ := s.snapshot()
	assert.Nil(t, cached)

	writeDoc(t, dir, DocSystemConfig, "important_metrics: [Cost]\n")
	d, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"Cost"}, d.System.ImportantMetrics)
}

func TestDocStoreWatchInvalidates(t *testing.T) {
	dir := t.TempDir()
	s := NewDocStore(dir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))
	defer s.Close()

	docs, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, docs.System.ImportantMetrics)

	writeDoc(t, dir, DocSystemConfig, "important_metrics: [Cost]\n")
	assert.Eventually(t, func() bool {
		d, err := s.Load()
		return err == nil && len(d.System.ImportantMetrics) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDocStoreWatchStopsWithContext(t *testing.T) {
	s := NewDocStore(t.TempDir(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Watch(ctx))
	cancel()

	assert.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.watcher == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, s.Close())
}

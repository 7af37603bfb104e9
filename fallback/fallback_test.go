package fallback_test

import (
	"context"
	"strings"
	"testing"

	"github.com/caffeineduck/gorex/extract"
	"github.com/caffeineduck/gorex/fallback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simplePage = `<html><head><title>Test</title></head><body><p>Content</p></body></html>`

func TestExtractSimplePage(t *testing.T) {
	c, err := fallback.New().Extract(context.Background(), extract.Request{
		HTML: simplePage,
		URL:  "https://example.com/",
		Mode: extract.Article(),
	})
	require.NoError(t, err)

	assert.Equal(t, "Test", c.Title)
	assert.Positive(t, c.QualityScore)
	assert.Equal(t, extract.SourceFallback, c.Source)
}

func TestReadableArticle(t *testing.T) {
	para := strings.Repeat("Extraction under a broken sandbox still has to return something useful. ", 8)
	page := `<html><head><title>Degraded</title></head><body>
		<nav><a href="/">Home</a></nav>
		<article><h1>Degraded</h1><p>` + para + `</p><p>` + para + `</p><script>alert(1)</script></article>
	</body></html>`

	c, err := fallback.New().Extract(context.Background(), extract.Request{HTML: page, URL: "https://example.com/d"})
	require.NoError(t, err)

	assert.Equal(t, "Degraded", c.Title)
	assert.Contains(t, c.Text, "Extraction under a broken sandbox")
	assert.Contains(t, c.Markdown, "Extraction under a broken sandbox")
	assert.NotContains(t, c.Markdown, "alert(1)")
	assert.Positive(t, c.WordCount)
}

func TestSameErrorShapeAsSandbox(t *testing.T) {
	e := fallback.New()

	_, err := e.Extract(context.Background(), extract.Request{HTML: ""})
	assert.ErrorIs(t, err, extract.ErrInvalidHTML)

	_, err = e.Extract(context.Background(), extract.Request{HTML: simplePage, Mode: extract.Custom()})
	assert.ErrorIs(t, err, extract.ErrUnsupportedMode)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Extract(ctx, extract.Request{HTML: simplePage})
	assert.ErrorIs(t, err, extract.ErrTimeout)
}

func TestModes(t *testing.T) {
	e := fallback.New()

	c, err := e.Extract(context.Background(), extract.Request{HTML: simplePage, Mode: extract.Metadata()})
	require.NoError(t, err)
	assert.Equal(t, "Test", c.Title)
	assert.Empty(t, c.Text)

	c, err = e.Extract(context.Background(), extract.Request{HTML: simplePage, Mode: extract.Custom("p")})
	require.NoError(t, err)
	assert.Equal(t, "Content", c.Text)

	c, err = e.Extract(context.Background(), extract.Request{HTML: simplePage, Mode: extract.Full()})
	require.NoError(t, err)
	assert.Contains(t, c.Markdown, "Content")
}

func TestExtractWithStats(t *testing.T) {
	page := `<html><head><title>T</title></head><body><p>Hi <a href="/a">a</a></p><img src="/x.png"></body></html>`

	c, stats, err := fallback.New().ExtractWithStats(context.Background(), extract.Request{HTML: page, URL: "https://example.com/"})
	require.NoError(t, err)

	assert.Equal(t, len(c.Links), stats.LinksFound)
	assert.Equal(t, len(c.Media), stats.ImagesFound)
	assert.Positive(t, stats.NodesProcessed)
}

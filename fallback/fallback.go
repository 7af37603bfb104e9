// Package fallback is the degraded, non-sandboxed extraction path used while
// the circuit breaker keeps calls away from the guest pool. It returns the
// same content and error shapes as the sandbox.
package fallback

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/caffeineduck/gorex/content"
	"github.com/caffeineduck/gorex/extract"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// minReadableText is the shortest readability text trusted over the
// container heuristics.
const minReadableText = 50

// Extractor runs readability and the content heuristics in-process.
type Extractor struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
	log    *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.log = l
		}
	}
}

// New returns a fallback extractor. It is safe for concurrent use.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Named("fallback")
	return e
}

// Extract serves req without a sandbox. Validation failures carry the same
// kinds the guest would report.
func (e *Extractor) Extract(ctx context.Context, req extract.Request) (*extract.Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, extract.Wrap(extract.KindTimeout, err, "fallback canceled")
	}
	if err := content.ValidateRequest(req); err != nil {
		return nil, err
	}

	doc, err := content.Parse(req.HTML, req.URL)
	if err != nil {
		return nil, err
	}
	c := doc.Extract(req.Mode)

	if req.Mode.Kind == extract.ModeArticle || req.Mode.Kind == "" {
		e.applyReadability(req, c)
	} else if req.Mode.Kind == extract.ModeFull {
		c.Markdown = e.markdown(req.HTML, req.URL)
	}

	c.WordCount = content.WordCount(c.Text)
	c.ReadingTime = content.ReadingTime(c.WordCount)
	c.QualityScore = content.QualityScore(c)
	c.Source = extract.SourceFallback

	e.log.Debug("fallback extraction",
		zap.String("url", req.URL),
		zap.String("mode", req.Mode.String()),
		zap.Int("word_count", c.WordCount),
	)
	return c, nil
}

// ExtractWithStats is Extract plus the statistics the guest would report.
func (e *Extractor) ExtractWithStats(ctx context.Context, req extract.Request) (*extract.Content, extract.Stats, error) {
	start := time.Now()
	c, err := e.Extract(ctx, req)
	if err != nil {
		return nil, extract.Stats{}, err
	}
	return c, extract.Stats{
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		NodesProcessed:   content.CountNodes(req.HTML),
		LinksFound:       len(c.Links),
		ImagesFound:      len(c.Media),
	}, nil
}

// applyReadability overlays the readability article on the heuristic result
// when it found enough text.
func (e *Extractor) applyReadability(req extract.Request, c *extract.Content) {
	pageURL, err := url.Parse(req.URL)
	if err != nil {
		pageURL = &url.URL{}
	}

	article, err := readability.FromReader(strings.NewReader(req.HTML), pageURL)
	if err != nil {
		e.log.Debug("readability failed", zap.String("url", req.URL), zap.Error(err))
		return
	}

	if text := strings.Join(strings.Fields(article.TextContent), " "); len(text) >= minReadableText {
		c.Text = text
		c.Markdown = e.markdown(article.Content, req.URL)
	}
	if c.Title == "" {
		c.Title = strings.TrimSpace(article.Title)
	}
	if c.Byline == "" {
		c.Byline = strings.TrimSpace(article.Byline)
	}
	if c.SiteName == "" {
		c.SiteName = article.SiteName
	}
	if c.Description == "" {
		c.Description = strings.TrimSpace(article.Excerpt)
	}
	if c.Language == "" {
		c.Language = article.Language
	}
}

// markdown sanitises html and converts it; conversion errors yield no markdown.
func (e *Extractor) markdown(html, pageURL string) string {
	clean := e.policy.Sanitize(html)
	md, err := e.conv.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil {
		e.log.Debug("markdown conversion failed", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(md)
}

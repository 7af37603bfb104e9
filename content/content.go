// Package content holds the HTML heuristics behind an extraction: title and
// metadata lookup, mode-dependent text selection, links, media, language,
// categories and a quality score. The sandboxed guest runs it; the fallback
// path reuses the metadata parts.
package content

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/caffeineduck/gorex/extract"
)

// Version is reported by the guest's health_check and get_info operations.
const Version = "0.3.0"

// MaxHTMLBytes is the largest document an extraction accepts.
const MaxHTMLBytes = 10 << 20

// Document is a parsed page ready for extraction.
type Document struct {
	doc *goquery.Document
	url string
}

// Parse parses html for extraction against pageURL, which resolves relative links.
func Parse(html, pageURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, extract.Wrap(extract.KindInvalidHTML, err, "parse document")
	}
	return &Document{doc: doc, url: pageURL}, nil
}

// Extract validates req and runs every extractor over it.
func Extract(req extract.Request) (*extract.Content, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	d, err := Parse(req.HTML, req.URL)
	if err != nil {
		return nil, err
	}
	return d.Extract(req.Mode), nil
}

// ExtractWithStats is Extract plus processing statistics.
func ExtractWithStats(req extract.Request) (*extract.Content, extract.Stats, error) {
	start := time.Now()
	c, err := Extract(req)
	if err != nil {
		return nil, extract.Stats{}, err
	}
	return c, extract.Stats{
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		NodesProcessed:   CountNodes(req.HTML),
		LinksFound:       len(c.Links),
		ImagesFound:      len(c.Media),
	}, nil
}

// Extract runs every extractor over the document. The mode must already be
// validated.
func (d *Document) Extract(mode extract.Mode) *extract.Content {
	c := &extract.Content{URL: d.url}
	d.FillMetadata(c)

	switch mode.Kind {
	case extract.ModeArticle, "":
		c.Text = d.ArticleText()
	case extract.ModeFull:
		c.Text = d.FullText()
	case extract.ModeCustom:
		c.Text = d.CustomText(mode.Fields)
	}

	c.WordCount = WordCount(c.Text)
	c.ReadingTime = ReadingTime(c.WordCount)
	c.Links = d.Links()
	c.Media = d.Media()
	c.Language = d.Language()
	c.Categories = d.Categories()
	c.QualityScore = QualityScore(c)
	return c
}

// FillMetadata sets title, byline, publication date, site name and description.
func (d *Document) FillMetadata(c *extract.Content) {
	c.Title = d.Title()
	c.Byline = d.meta("author", "article:author")
	c.PublishedISO = d.meta("article:published_time", "datePublished")
	c.SiteName = d.meta("og:site_name", "twitter:site")
	c.Description = d.meta("description", "og:description")
}

// Modes lists the supported extraction modes with a short description each.
func Modes() []string {
	return []string{
		"article - main article text located by common content containers",
		"full - all visible body text including navigation and sidebars",
		"metadata - title, description and structured data only",
		"custom - text of elements matched by the given CSS selectors",
	}
}

// Features lists what an extraction produces.
func Features() []string {
	return []string{
		"article-extraction",
		"full-page-extraction",
		"metadata-extraction",
		"custom-selectors",
		"links-extraction",
		"media-extraction",
		"language-detection",
		"category-extraction",
		"url-resolution",
	}
}

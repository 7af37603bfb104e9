package content

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// articleContainers are tried in order; the first with enough text wins.
var articleContainers = []string{
	"article",
	"main",
	"[role='main']",
	".article-content",
	".post-content",
	".entry-content",
	"#content",
}

const minArticleText = 200

const wordsPerMinute = 200

// Title prefers <title>, then og:title, then the first h1.
func (d *Document) Title() string {
	if t := strings.TrimSpace(d.doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t, ok := d.doc.Find("meta[property='og:title']").First().Attr("content"); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	return textOf(d.doc.Find("h1").First())
}

// meta returns the first non-empty content of a meta tag keyed by property
// or name, trying keys in order.
func (d *Document) meta(keys ...string) string {
	for _, key := range keys {
		for _, attr := range []string{"property", "name", "itemprop"} {
			sel := d.doc.Find("meta[" + attr + "='" + key + "']").First()
			if v, ok := sel.Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// ArticleText returns the text of the first content container with enough
// text, or the whole body.
func (d *Document) ArticleText() string {
	for _, sel := range articleContainers {
		if text := textOf(d.doc.Find(sel).First()); len(text) > minArticleText {
			return text
		}
	}
	return d.FullText()
}

func (d *Document) FullText() string {
	return textOf(d.doc.Find("body").First())
}

// CustomText joins the text of every element matched by selectors. Selectors
// that fail to compile are skipped; ValidateRequest rejects them up front.
func (d *Document) CustomText(selectors []string) string {
	var parts []string
	for _, s := range selectors {
		sel, err := cascadia.Compile(s)
		if err != nil {
			continue
		}
		d.doc.FindMatcher(sel).Each(func(_ int, el *goquery.Selection) {
			if text := textOf(el); text != "" {
				parts = append(parts, text)
			}
		})
	}
	return strings.Join(parts, "\n\n")
}

// textOf returns the visible text of sel with whitespace collapsed.
func textOf(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	c := sel.Clone()
	c.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(c.Text()), " ")
}

func WordCount(text string) int {
	return len(strings.Fields(text))
}

// ReadingTime estimates minutes at 200 words per minute, at least one for any text.
func ReadingTime(words int) int {
	if words == 0 {
		return 0
	}
	return max(1, words/wordsPerMinute)
}

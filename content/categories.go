package content

import (
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxCategories = 20

const breadcrumbLinks = "nav[aria-label*='breadcrumb'] a, .breadcrumb a, .breadcrumbs a"

var (
	skipCategoryWords = []string{"home", "index", "main", "page", "click", "here", "read more", "continue"}
	numericNoise      = regexp.MustCompile(`\d{4}|\d+\.\d+|page\s+\d+`)
)

// Categories collects sections, tags and keywords from JSON-LD, breadcrumbs,
// meta tags and category-like class names. The result is sorted and capped.
func (d *Document) Categories() []string {
	set := make(map[string]struct{})
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			set[s] = struct{}{}
		}
	}

	for _, ld := range d.jsonLD() {
		collectJSONLD(ld, add)
	}

	d.doc.Find(breadcrumbLinks).Each(func(_ int, s *goquery.Selection) {
		if text := textOf(s); isLikelyCategory(text) {
			add(text)
		}
	})

	d.doc.Find("meta[name='category'], meta[name='categories'], meta[property='article:section'], meta[property='article:tag']").
		Each(func(_ int, s *goquery.Selection) {
			content, _ := s.Attr("content")
			for _, c := range strings.Split(content, ",") {
				add(c)
			}
		})

	d.doc.Find("[class*='category'], [class*='tag'], [class*='topic']").
		EachWithBreak(func(i int, s *goquery.Selection) bool {
			if text := textOf(s); isLikelyCategory(text) {
				add(text)
			}
			return i < 9
		})

	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	slices.Sort(out)
	if len(out) > maxCategories {
		out = out[:maxCategories]
	}
	return out
}

func collectJSONLD(v any, add func(string)) {
	switch t := v.(type) {
	case map[string]any:
		for _, key := range []string{"articleSection", "keywords"} {
			switch val := t[key].(type) {
			case string:
				for _, s := range strings.Split(val, ",") {
					add(s)
				}
			case []any:
				for _, item := range val {
					if s, ok := item.(string); ok {
						add(s)
					}
				}
			}
		}
		if t["@type"] == "BreadcrumbList" {
			if items, ok := t["itemListElement"].([]any); ok {
				for _, item := range items {
					if m, ok := item.(map[string]any); ok {
						if name, ok := m["name"].(string); ok {
							add(name)
						}
					}
				}
			}
		}
		for _, child := range t {
			collectJSONLD(child, add)
		}
	case []any:
		for _, child := range t {
			collectJSONLD(child, add)
		}
	}
}

func isLikelyCategory(text string) bool {
	if len(text) < 2 || len(text) > 50 {
		return false
	}
	lower := strings.ToLower(text)
	for _, w := range skipCategoryWords {
		if strings.Contains(lower, w) {
			return false
		}
	}
	if strings.Count(text, " ") > 3 {
		return false
	}
	return !numericNoise.MatchString(lower)
}

package content

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Language returns an ISO 639-1 code from, in order: the html lang attribute,
// og:locale, JSON-LD inLanguage, the Content-Language meta tag.
func (d *Document) Language() string {
	if lang, ok := d.doc.Find("html[lang]").First().Attr("lang"); ok {
		if n := normalizeLang(lang); n != "" {
			return n
		}
	}
	if lang := d.meta("og:locale"); lang != "" {
		if n := normalizeLang(lang); n != "" {
			return n
		}
	}
	for _, ld := range d.jsonLD() {
		if lang := findString(ld, "inLanguage"); lang != "" {
			if n := normalizeLang(lang); n != "" {
				return n
			}
		}
	}
	if lang, ok := d.doc.Find("meta[http-equiv='Content-Language']").First().Attr("content"); ok {
		return normalizeLang(lang)
	}
	return ""
}

// normalizeLang turns "en-US" and "en_US" into "en".
func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	return lang
}

// jsonLD decodes every application/ld+json script; undecodable blocks are skipped.
func (d *Document) jsonLD() []any {
	var out []any
	d.doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(s.Text()), &v); err == nil {
			out = append(out, v)
		}
	})
	return out
}

// findString returns the first string value stored under key anywhere in v.
func findString(v any, key string) string {
	switch t := v.(type) {
	case map[string]any:
		if s, ok := t[key].(string); ok {
			return s
		}
		for _, child := range t {
			if s := findString(child, key); s != "" {
				return s
			}
		}
	case []any:
		for _, child := range t {
			if s := findString(child, key); s != "" {
				return s
			}
		}
	}
	return ""
}

package content

import (
	"errors"
	"io"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/caffeineduck/gorex/extract"
	"golang.org/x/net/html"
)

// ValidateRequest rejects requests no extractor can serve: empty or oversized
// HTML, unknown modes, and custom modes without usable selectors.
func ValidateRequest(req extract.Request) error {
	if strings.TrimSpace(req.HTML) == "" {
		return extract.New(extract.KindInvalidHTML, "empty document")
	}
	if len(req.HTML) > MaxHTMLBytes {
		return extract.New(extract.KindInvalidHTML, "document of %d bytes exceeds %d", len(req.HTML), MaxHTMLBytes)
	}
	return ValidateMode(req.Mode)
}

func ValidateMode(m extract.Mode) error {
	if m.Kind == "" {
		return nil
	}
	if !m.Known() {
		return extract.New(extract.KindUnsupportedMode, "unknown mode %q", m.Kind)
	}
	if m.Kind != extract.ModeCustom {
		return nil
	}
	if len(m.Fields) == 0 {
		return extract.New(extract.KindUnsupportedMode, "custom mode without selectors")
	}
	for _, f := range m.Fields {
		if _, err := cascadia.Compile(f); err != nil {
			return extract.New(extract.KindUnsupportedMode, "selector %q: %v", f, err)
		}
	}
	return nil
}

// Validate reports whether doc tokenizes cleanly and contains an html element.
func Validate(doc string) bool {
	if strings.TrimSpace(doc) == "" {
		return false
	}
	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken:
			if name, _ := z.TagName(); string(name) == "html" {
				return drain(z)
			}
		}
	}
}

func drain(z *html.Tokenizer) bool {
	for z.Next() != html.ErrorToken {
	}
	return errors.Is(z.Err(), io.EOF)
}

// CountNodes counts element start tags.
func CountNodes(doc string) int {
	z := html.NewTokenizer(strings.NewReader(doc))
	n := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return n
		case html.StartTagToken, html.SelfClosingTagToken:
			n++
		}
	}
}

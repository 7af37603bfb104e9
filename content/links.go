package content

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Links returns absolute http(s) URLs of anchors and image-map areas, plus the
// canonical URL prefixed with "canonical:". Duplicates are dropped.
func (d *Document) Links() []string {
	base := d.base()
	var links []string
	seen := make(map[string]struct{})
	add := func(s string) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		links = append(links, s)
	}

	d.doc.Find("a[href], area[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if u := resolve(base, href); u != nil && (u.Scheme == "http" || u.Scheme == "https") {
			add(u.String())
		}
	})
	d.doc.Find("link[rel='canonical'][href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if u := resolve(base, href); u != nil {
			add("canonical:" + u.String())
		}
	})
	return links
}

// Media returns media URLs tagged by kind: image:, video:, audio:, og:image:
// and the rel of icon links.
func (d *Document) Media() []string {
	base := d.base()
	var media []string
	seen := make(map[string]struct{})
	add := func(kind, ref string) {
		u := resolve(base, ref)
		if u == nil || u.Scheme == "data" {
			return
		}
		s := kind + ":" + u.String()
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		media = append(media, s)
	}

	d.doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			add("image", src)
		}
		if srcset, ok := s.Attr("srcset"); ok {
			for _, ref := range parseSrcset(srcset) {
				add("image", ref)
			}
		}
	})
	d.doc.Find("picture source[srcset]").Each(func(_ int, s *goquery.Selection) {
		srcset, _ := s.Attr("srcset")
		for _, ref := range parseSrcset(srcset) {
			add("image", ref)
		}
	})
	d.doc.Find("video[src], video source[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add("video", src)
	})
	d.doc.Find("audio[src], audio source[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add("audio", src)
	})
	d.doc.Find("meta[property='og:image'], meta[property='og:image:url']").Each(func(_ int, s *goquery.Selection) {
		content, _ := s.Attr("content")
		add("og:image", content)
	})
	d.doc.Find("link[rel*='icon'][href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		rel, _ := s.Attr("rel")
		add(strings.TrimSpace(rel), href)
	})
	return media
}

func (d *Document) base() *url.URL {
	u, err := url.Parse(d.url)
	if err != nil {
		return &url.URL{}
	}
	return u
}

func resolve(base *url.URL, ref string) *url.URL {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	u, err := base.Parse(ref)
	if err != nil {
		return nil
	}
	return u
}

// parseSrcset returns the URLs of "url 1x, url 2x" candidates.
func parseSrcset(srcset string) []string {
	var refs []string
	for _, candidate := range strings.Split(srcset, ",") {
		if f := strings.Fields(candidate); len(f) > 0 {
			refs = append(refs, f[0])
		}
	}
	return refs
}

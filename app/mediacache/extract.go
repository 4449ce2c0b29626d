package mediacache

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const mediaSelector = "img[src], video[src], audio[src], source[src]"

// ExtractMediaURLs returns the remote media URLs embedded in an HTML
// fragment: src attributes of img, video, audio and source elements.
// Data URLs and already-local references are skipped.
func ExtractMediaURLs(html string) ([]string, error) {
	if html == "" {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var urls []string
	seen := make(map[string]bool)

	doc.Find(mediaSelector).Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok || !isRemote(src) {
			return
		}
		src = normalizeURL(src)
		if !seen[src] {
			seen[src] = true
			urls = append(urls, src)
		}
	})

	return urls, nil
}

// RewriteHTML substitutes embedded media references with local cache
// references. Output is deterministic for a given cache state and input;
// a URL without a blob (marker or lookup failure) stays untouched.
func (s *Store) RewriteHTML(ctx context.Context, html string) (string, error) {
	if html == "" {
		return html, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find(mediaSelector).Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok || !isRemote(src) {
			return
		}
		src = normalizeURL(src)
		if resolved := s.Resolve(ctx, src); resolved != src {
			sel.SetAttr("src", resolved)
		}
	})

	// goquery parses fragments into a full document; return the body
	// contents to keep the fragment shape.
	return doc.Find("body").Html()
}

func isRemote(src string) bool {
	return strings.HasPrefix(src, "http://") ||
		strings.HasPrefix(src, "https://") ||
		strings.HasPrefix(src, "//")
}

func normalizeURL(src string) string {
	if strings.HasPrefix(src, "//") {
		return "https:" + src
	}
	return src
}

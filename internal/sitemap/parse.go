// Package sitemap resolves sitemap and sitemap-index documents into a flat,
// deduplicated set of leaf URLs.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Entry is one <loc> found in a document.
type Entry struct {
	Loc string
	// Sitemap marks the entry as a reference to another sitemap document.
	Sitemap bool
}

var cdataReplacer = strings.NewReplacer("<![CDATA[", "", "]]>", "")

// Parse extracts location entries from a sitemap or sitemap-index body.
// Gzip-compressed bodies are inflated first.
func Parse(body []byte) ([]Entry, error) {
	raw, err := inflate(body)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(cdataReplacer.Replace(string(raw))))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}
	// Only <loc> elements in the root's namespace prefix count, so extension
	// elements such as <image:loc> are skipped.
	prefix := rootPrefix(doc)
	var entries []Entry
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		p, local := splitName(goquery.NodeName(s))
		if local != "loc" || p != prefix {
			return
		}
		loc := strings.TrimSpace(s.Text())
		if loc == "" {
			return
		}
		_, parent := splitName(goquery.NodeName(s.Parent()))
		inIndex := parent == "sitemap"
		entries = append(entries, Entry{Loc: loc, Sitemap: inIndex || IsSitemapReference(loc)})
	})
	return entries, nil
}

// rootPrefix returns the namespace prefix of the urlset or sitemapindex
// element, or "" when the document has none or uses a default namespace.
func rootPrefix(doc *goquery.Document) string {
	var prefix string
	doc.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		p, local := splitName(goquery.NodeName(s))
		if local == "urlset" || local == "sitemapindex" {
			prefix = p
			return false
		}
		return true
	})
	return prefix
}

func splitName(name string) (string, string) {
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// IsSitemapReference classifies a location by its path suffix.
func IsSitemapReference(loc string) bool {
	path := loc
	if u, err := url.Parse(loc); err == nil {
		path = u.Path
	}
	path = strings.ToLower(path)
	return strings.HasSuffix(path, ".xml") || strings.HasSuffix(path, ".xml.gz")
}

func inflate(body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("open gzip sitemap: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("inflate sitemap: %w", err)
	}
	return out, nil
}

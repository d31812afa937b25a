// Package extract turns raw HTML into normalized text for analysis.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
)

// Document is the extracted content of one page.
type Document struct {
	URL       string
	Title     string
	Text      string
	WordCount int
}

// Extractor converts HTML bodies into Documents. It is deterministic and
// holds no state beyond its configuration.
type Extractor struct {
	maxTextLength int
}

// New builds an Extractor. maxTextLength bounds the normalized text; zero or
// negative means unbounded.
func New(maxTextLength int) *Extractor {
	return &Extractor{maxTextLength: maxTextLength}
}

// noiseSelector matches markup that carries no analyzable prose.
const noiseSelector = "script, style, noscript, nav, footer, header, aside"

// Extract parses body and returns the page title plus whitespace-collapsed
// text. Content inside script/style/nav/footer/header/aside is dropped; the
// main or article subtree is preferred when present.
func (e *Extractor) Extract(pageURL string, body []byte) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Document{}, fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find(noiseSelector).Remove()

	content := doc.Find("main").First()
	if content.Length() == 0 {
		content = doc.Find("article").First()
	}
	if content.Length() == 0 {
		content = doc.Find("body").First()
	}
	var text string
	if content.Length() > 0 {
		text = content.Text()
	} else {
		text = doc.Text()
	}

	text = collapseWhitespace(text)
	if e.maxTextLength > 0 && len(text) > e.maxTextLength {
		cut := e.maxTextLength
		// Back off to a rune boundary so the cut never leaves invalid
		// UTF-8 at the end.
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	return Document{
		URL:       pageURL,
		Title:     title,
		Text:      text,
		WordCount: len(strings.Fields(text)),
	}, nil
}

// binaryExtensions lists path suffixes that never carry analyzable HTML.
var binaryExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".bmp", ".svg", ".webp", ".ico",
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".zip", ".rar", ".tar", ".gz", ".7z",
	".mp3", ".mp4", ".avi", ".mov", ".webm", ".ogg", ".wav",
	".js", ".css", ".json", ".xml", ".csv", ".txt",
	".exe", ".dmg", ".pkg", ".deb", ".rpm",
	".ttf", ".otf", ".woff", ".woff2", ".eot",
	".rss", ".atom",
}

// Links returns the normalized same-host links found in body, resolved
// against base. Binary-file and feed/API URLs are filtered out.
func (e *Extractor) Links(base string, body []byte) ([]string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := baseURL.ResolveReference(ref)
		normalized, err := crawl.NormalizeURL(abs.String())
		if err != nil {
			return
		}
		if !crawl.SameHost(normalized, base) {
			return
		}
		if !IsHTMLContentURL(normalized) {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
	})
	return links, nil
}

// IsHTMLContentURL reports whether the URL plausibly serves HTML worth
// crawling rather than a binary asset or machine feed.
func IsHTMLContentURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, ext := range binaryExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	for _, segment := range []string{"/api/", "/feed/", "/rss/", "/sitemap"} {
		if strings.Contains(path, segment) && !strings.HasSuffix(path, ".html") && !strings.HasSuffix(path, ".htm") {
			return false
		}
	}
	return true
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

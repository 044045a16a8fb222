package crawl

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"
)

// PageContent is the parsed payload of a successful fetch: plain text,
// detected language, word count computed from the extracted text (never the
// raw markup), and the absolute outbound links found on the page.
type PageContent struct {
	Title     string
	Text      string
	Language  string
	WordCount int
	Links     []string
}

// ExtractContent parses an HTML body. Relative links are resolved against
// base; only http(s) links are kept.
func ExtractContent(base *url.URL, body []byte) (PageContent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return PageContent{}, &ParseError{Err: fmt.Errorf("parse html: %w", err)}
	}

	doc.Find("script, style, noscript, template").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	text := normalizeWhitespace(doc.Find("body").Text())
	if text == "" {
		// Some documents carry no body element; fall back to the whole tree.
		text = normalizeWhitespace(doc.Text())
	}

	links := extractLinks(doc, base)

	return PageContent{
		Title:     title,
		Text:      text,
		Language:  DetectLanguage(text),
		WordCount: CountWords(text),
		Links:     links,
	}, nil
}

func extractLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := ref
		if base != nil {
			abs = base.ResolveReference(ref)
		}
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		links = append(links, abs.String())
	})
	return links
}

// DetectLanguage returns the ISO 639-3 code of the text's language, or empty
// when the text is too short to classify.
func DetectLanguage(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	if info.Lang == -1 {
		return ""
	}
	return info.Lang.Iso6393()
}

// CountWords counts whitespace-separated tokens in extracted text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

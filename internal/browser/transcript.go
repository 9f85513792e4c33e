package browser

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// RenderTranscript converts a page snapshot into markdown, keeping only the
// visible document body.
func RenderTranscript(html, baseURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse page HTML: %w", err)
	}

	doc.Find("script, style, noscript, template, svg").Remove()
	doc.Find("[hidden], [aria-hidden='true']").Remove()

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	bodyHTML, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("failed to serialise page body: %w", err)
	}

	mdConverter := md.NewConverter(baseURL, true, nil)
	converted, err := mdConverter.ConvertString(bodyHTML)
	if err != nil {
		return "", fmt.Errorf("failed to convert page to markdown: %w", err)
	}

	return strings.TrimSpace(converted), nil
}

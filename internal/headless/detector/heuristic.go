// Package detector flags unrendered responses that look like JavaScript shells.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/tierfetch/internal/crawler"
)

const defaultMinText = 2048

// mountPoints match the empty containers client-side frameworks render into.
const mountPoints = `#root, #app, #__next, #__nuxt, [data-reactroot], [ng-version], [ng-app]`

// Heuristic suggests render_js for thin HTML pages that ship scripts or a
// framework mount point.
type Heuristic struct {
	// MinVisibleText is the visible text length, in bytes, below which a
	// page counts as thin.
	MinVisibleText int
}

// NewHeuristic returns a detector; a non-positive minText picks the default.
func NewHeuristic(minText int) *Heuristic {
	if minText <= 0 {
		minText = defaultMinText
	}
	return &Heuristic{MinVisibleText: minText}
}

// ShouldRender reports whether a 200 HTML response fetched without render_js
// probably needs a browser to produce its content.
func (h *Heuristic) ShouldRender(resp crawler.ProviderResponse) bool {
	if resp.StatusCode != http.StatusOK || !isHTML(resp.Headers) {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}
	scripts := doc.Find("script").Length()
	mounted := doc.Find(mountPoints).Length() > 0
	if scripts == 0 && !mounted {
		return false
	}
	return visibleTextLen(doc) < h.MinVisibleText
}

func visibleTextLen(doc *goquery.Document) int {
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	root = root.Clone()
	root.Find("script, style, noscript, template").Remove()
	return len(strings.Join(strings.Fields(root.Text()), " "))
}

func isHTML(headers http.Header) bool {
	ct := strings.ToLower(headers.Get("Content-Type"))
	return ct == "" || strings.Contains(ct, "html")
}

// Package detector decides when a statically fetched page needs a browser render.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// DefaultScriptShare is the fraction of document text held in <script> tags
// above which a link-less page is treated as client rendered.
const DefaultScriptShare = 0.25

// mount points used by the common SPA frameworks
const spaSelector = "#__next, #root, #app, [data-reactroot], [ng-app]"

// Heuristic promotes pages that carry no links and look client rendered.
type Heuristic struct {
	ScriptShare float64
}

// NewHeuristic creates a detector; a non-positive share falls back to DefaultScriptShare.
func NewHeuristic(scriptShare float64) *Heuristic {
	if scriptShare <= 0 {
		scriptShare = DefaultScriptShare
	}
	return &Heuristic{ScriptShare: scriptShare}
}

// ShouldPromote reports whether resp should be fetched again through a browser.
// A page that already exposes links is never promoted.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}
	if doc.Find("a[href]").Length() > 0 {
		return false
	}
	if doc.Find(spaSelector).Length() > 0 {
		return true
	}
	return h.scriptHeavy(doc)
}

func (h *Heuristic) scriptHeavy(doc *goquery.Document) bool {
	script := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		script += len(strings.TrimSpace(s.Text()))
	})
	if script == 0 {
		return false
	}
	total := len(strings.TrimSpace(doc.Text()))
	if total == 0 {
		return true
	}
	return float64(script)/float64(total) >= h.ScriptShare
}

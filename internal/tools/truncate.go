package tools

import (
	"encoding/json"
	"fmt"

	"autosint/internal/graph"
)

// searchEnvelope is the shape every search-style handler returns: the kept
// results, the pre-truncation total, and an omission note once truncated
// (spec.md §4.2 "Truncation contract").
type searchEnvelope[T any] struct {
	Results []T    `json:"results"`
	Total   int    `json:"total"`
	Note    string `json:"note,omitempty"`
}

func truncateResults[T any](items []T, max int) searchEnvelope[T] {
	total := len(items)
	if max > 0 && total > max {
		return searchEnvelope[T]{Results: items[:max], Total: total, Note: fmt.Sprintf("… %d more omitted", total-max)}
	}
	return searchEnvelope[T]{Results: items, Total: total}
}

// entityDetail is get_entity's payload shape, with truncation markers.
type entityDetail struct {
	graph.Entity
	PropertiesTruncated bool `json:"properties_truncated,omitempty"`
	SummaryTruncated    bool `json:"summary_truncated,omitempty"`
}

// truncateEntityDetail enforces maxChars on an entity's freeform properties
// first, then its summary (spec.md §4.2): properties are dropped to a
// placeholder before the summary is ever cut.
func truncateEntityDetail(e graph.Entity, maxChars int) entityDetail {
	detail := entityDetail{Entity: e}
	if maxChars <= 0 {
		return detail
	}

	propsJSON, _ := json.Marshal(e.Properties)
	total := len(propsJSON) + len(e.Summary)
	if total <= maxChars {
		return detail
	}

	if len(propsJSON) > 0 {
		detail.Entity.Properties = map[string]any{"_omitted": fmt.Sprintf("%d properties omitted", len(e.Properties))}
		detail.PropertiesTruncated = true
		propsJSON, _ = json.Marshal(detail.Entity.Properties)
	}

	total = len(propsJSON) + len(e.Summary)
	if total > maxChars {
		keep := maxChars - len(propsJSON)
		if keep < 0 {
			keep = 0
		}
		if keep < len(e.Summary) {
			detail.Entity.Summary = e.Summary[:keep] + "…"
			detail.SummaryTruncated = true
		}
	}
	return detail
}

// claimPreview is search_claims' per-item shape: content truncated with the
// original length appended.
type claimPreview struct {
	graph.Claim
	Content       string `json:"content"`
	OriginalChars int    `json:"original_chars,omitempty"`
}

func truncateClaimPreview(c graph.Claim, maxChars int) claimPreview {
	preview := claimPreview{Claim: c, Content: c.Content}
	if maxChars > 0 && len(c.Content) > maxChars {
		preview.Content = c.Content[:maxChars] + "…"
		preview.OriginalChars = len(c.Content)
	}
	return preview
}

// Package review implements the approval gate between job analysis and
// resume customization. Every proposed change gets an explicit accept or
// reject decision before any resume content is generated.
package review

import (
	"context"

	"resumetailor/internal/types"
)

// Item is one proposed change presented for review, with an optional
// warning the reviewer should see before deciding.
type Item struct {
	Change  types.ProposedChange
	Warning string
}

// Decisions maps change IDs to accept (true) or reject (false). A complete
// decision set covers every presented item.
type Decisions map[string]bool

// Reviewer renders proposed changes for a decision maker and returns a
// total decision set. Implementations must not return partial decisions.
type Reviewer interface {
	Review(ctx context.Context, items []Item) (Decisions, error)
}

// Accepted filters changes down to the accepted ones, preserving order.
func Accepted(items []Item, decisions Decisions) []types.ProposedChange {
	var accepted []types.ProposedChange
	for _, item := range items {
		if decisions[item.Change.ID] {
			accepted = append(accepted, item.Change)
		}
	}
	return accepted
}

// StaticReviewer applies a predetermined decision set, as submitted by a
// web client or a non-interactive run. IDs absent from the set count as
// explicit rejections, so the result is always total.
type StaticReviewer struct {
	Decisions Decisions
}

// Review implements Reviewer.
func (s StaticReviewer) Review(_ context.Context, items []Item) (Decisions, error) {
	decisions := make(Decisions, len(items))
	for _, item := range items {
		decisions[item.Change.ID] = s.Decisions[item.Change.ID]
	}
	return decisions, nil
}

// AcceptAll accepts every proposed change, for runs started with an
// explicit skip-review flag.
type AcceptAll struct{}

// Review implements Reviewer.
func (AcceptAll) Review(_ context.Context, items []Item) (Decisions, error) {
	decisions := make(Decisions, len(items))
	for _, item := range items {
		decisions[item.Change.ID] = true
	}
	return decisions, nil
}

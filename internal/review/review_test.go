package review

import (
	"context"
	"testing"

	"resumetailor/internal/types"
)

func sampleItems() []Item {
	return []Item{
		{Change: types.ProposedChange{ID: "c1", Category: types.CategorySkillHighlight, Description: "Highlight Go", Evidence: "requires Go"}},
		{Change: types.ProposedChange{ID: "c2", Category: types.CategoryKeywordInsertion, Description: "Add Kubernetes", Evidence: "Kubernetes experience"}},
		{Change: types.ProposedChange{ID: "c3", Category: types.CategoryExperienceReword, Description: "Reword ops bullet", Evidence: "on-call rotation"}},
	}
}

func TestStaticReviewerMissingIDsAreRejections(t *testing.T) {
	items := sampleItems()
	reviewer := StaticReviewer{Decisions: Decisions{"c1": true}}

	decisions, err := reviewer.Review(context.Background(), items)
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	if len(decisions) != len(items) {
		t.Fatalf("Review() returned %d decisions, want %d (totality)", len(decisions), len(items))
	}
	if !decisions["c1"] {
		t.Error("c1 should be accepted")
	}
	for _, id := range []string{"c2", "c3"} {
		accepted, present := decisions[id]
		if !present {
			t.Errorf("%s missing from decision set", id)
		}
		if accepted {
			t.Errorf("%s should be rejected when absent from submitted decisions", id)
		}
	}
}

func TestAcceptAll(t *testing.T) {
	items := sampleItems()
	decisions, err := AcceptAll{}.Review(context.Background(), items)
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	for _, item := range items {
		if !decisions[item.Change.ID] {
			t.Errorf("%s not accepted", item.Change.ID)
		}
	}
}

func TestAcceptedPreservesOrder(t *testing.T) {
	items := sampleItems()
	decisions := Decisions{"c1": true, "c2": false, "c3": true}

	accepted := Accepted(items, decisions)
	if len(accepted) != 2 {
		t.Fatalf("Accepted() returned %d changes, want 2", len(accepted))
	}
	if accepted[0].ID != "c1" || accepted[1].ID != "c3" {
		t.Errorf("Accepted() order = %s, %s, want c1, c3", accepted[0].ID, accepted[1].ID)
	}
}

func TestAcceptedEmptyDecisions(t *testing.T) {
	if got := Accepted(sampleItems(), Decisions{}); len(got) != 0 {
		t.Errorf("Accepted() with no approvals returned %d changes, want 0", len(got))
	}
}

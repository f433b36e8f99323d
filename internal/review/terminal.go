package review

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/manifoldco/promptui"

	rterrors "resumetailor/internal/errors"
)

const (
	choiceAccept = "Accept"
	choiceReject = "Reject"
	choiceQuit   = "Quit (abort the run)"
)

// TerminalReviewer walks the decision maker through each proposed change
// on an interactive terminal. Quitting or interrupting aborts the whole
// run with no partial decisions.
type TerminalReviewer struct {
	Out io.Writer
}

// Review implements Reviewer.
func (t TerminalReviewer) Review(ctx context.Context, items []Item) (Decisions, error) {
	decisions := make(Decisions, len(items))

	fmt.Fprintf(t.Out, "\n%d proposed change(s) to review.\n", len(items))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, rterrors.NewValidationError(rterrors.ErrCodeReviewAborted,
				"Review aborted", err)
		}

		fmt.Fprintf(t.Out, "\n[%d/%d] %s\n", i+1, len(items), item.Change.Category)
		fmt.Fprintf(t.Out, "  %s\n", item.Change.Description)
		fmt.Fprintf(t.Out, "  Evidence: %s\n", item.Change.Evidence)
		if item.Warning != "" {
			fmt.Fprintf(t.Out, "  WARNING: %s\n", item.Warning)
		}

		prompt := promptui.Select{
			Label: fmt.Sprintf("Decision for change %s", item.Change.ID),
			Items: []string{choiceAccept, choiceReject, choiceQuit},
		}

		_, choice, err := prompt.Run()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return nil, rterrors.NewValidationError(rterrors.ErrCodeReviewAborted,
					"Review aborted by user", err)
			}
			return nil, rterrors.NewInternalError(rterrors.ErrCodeReviewAborted,
				"Review prompt failed", err)
		}

		switch choice {
		case choiceAccept:
			decisions[item.Change.ID] = true
		case choiceReject:
			decisions[item.Change.ID] = false
		case choiceQuit:
			return nil, rterrors.NewValidationError(rterrors.ErrCodeReviewAborted,
				"Review aborted by user", nil)
		}
	}

	return decisions, nil
}

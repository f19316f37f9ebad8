package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"loomctl/core"
	"loomctl/models"
)

// Reporter prints cleanup outcomes for a terminal or as JSON.
type Reporter struct {
	out io.Writer
}

func NewReporter(out io.Writer) *Reporter {
	return &Reporter{out: out}
}

func operationIcon(op models.OperationResult) string {
	switch {
	case op.Success:
		return "✅"
	case op.BestEffort():
		return "⚠️"
	default:
		return "❌"
	}
}

// FormatResult renders one cleanup result, one line per operation.
func FormatResult(result models.CleanupResult) string {
	var b strings.Builder

	header := "🧹 Cleanup of %s"
	if result.DryRun {
		header = "🔍 Dry run for %s"
	}
	fmt.Fprintf(&b, header, result.Identifier)
	if result.BranchName != "" {
		fmt.Fprintf(&b, " (branch %s)", result.BranchName)
	}
	b.WriteString("\n")

	for _, op := range result.Operations() {
		fmt.Fprintf(&b, "  %s %s: %s", operationIcon(op), op.Type, op.Message)
		if op.Err != nil {
			fmt.Fprintf(&b, ": %v", op.Err)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatOutcome renders a batch entry: the gate refusal, or the result plus
// recovery steps when something failed.
func FormatOutcome(outcome models.BatchOutcome) string {
	if outcome.Err != nil {
		return formatRefusal(outcome.Input, outcome.Err)
	}

	text := FormatResult(outcome.Result)
	if steps := RecoveryInstructions(outcome.Result); len(steps) > 0 {
		text += "\n⚠️ Cleanup was incomplete. To finish by hand:\n"
		for i, step := range steps {
			text += fmt.Sprintf("  %d. %s\n", i+1, step)
		}
	}
	return text
}

func formatRefusal(input string, err error) string {
	if _, ok := core.IsWorktreeNotFound(err); ok {
		return fmt.Sprintf("❌ %s: %v\n", input, err)
	}
	if blocked, ok := core.IsSafetyBlocked(err); ok {
		var b strings.Builder
		fmt.Fprintf(&b, "🛑 %s: refusing to clean up branch '%s'\n", input, blocked.Branch)
		for _, blocker := range blocked.Blockers {
			b.WriteString("\n")
			b.WriteString(blocker)
			b.WriteString("\n")
		}
		return b.String()
	}
	return fmt.Sprintf("🛑 %s: %v\n", input, err)
}

// Text writes every outcome followed by a one-line summary for batches.
func (r *Reporter) Text(outcomes []models.BatchOutcome) error {
	succeeded := 0
	for i, outcome := range outcomes {
		if i > 0 {
			if _, err := fmt.Fprintln(r.out); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(r.out, FormatOutcome(outcome)); err != nil {
			return err
		}
		if outcome.Success() {
			succeeded++
		}
	}

	if len(outcomes) > 1 {
		_, err := fmt.Fprintf(r.out, "\n📋 %d of %d cleanups succeeded\n", succeeded, len(outcomes))
		return err
	}
	return nil
}

// JSON writes the outcomes as an indented JSON array.
func (r *Reporter) JSON(outcomes []models.BatchOutcome) error {
	if outcomes == nil {
		outcomes = []models.BatchOutcome{}
	}
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(outcomes); err != nil {
		return fmt.Errorf("failed to encode cleanup results: %w", err)
	}
	return nil
}

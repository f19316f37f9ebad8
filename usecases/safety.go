package usecases

import (
	"context"
	"fmt"
	"os"
	"strings"

	"loomctl/core/log"
	"loomctl/models"
)

// SafetyInput describes the loom being torn down.
type SafetyInput struct {
	Branch         string
	WorktreePath   string
	MainPath       string
	IsMainWorktree bool
	MergeTarget    string
	CheckMerge     bool
	CheckRemote    bool
}

// SafetyClassifier combines uncommitted state, remote status and merge state
// into an allow/block decision. It never returns an error; every probe
// failure becomes a blocker.
type SafetyClassifier struct {
	changes ChangeDetector
	remote  RemoteStatusProbe
	merge   MergeProbe
}

func NewSafetyClassifier(changes ChangeDetector, remote RemoteStatusProbe, merge MergeProbe) *SafetyClassifier {
	return &SafetyClassifier{changes: changes, remote: remote, merge: merge}
}

// probeDir is where branch-level probes run. Refs are shared between
// worktrees, so the main worktree answers for a loom whose directory is gone.
func (in SafetyInput) probeDir() string {
	if in.MainPath != "" {
		return in.MainPath
	}
	return in.WorktreePath
}

func bullets(lines ...string) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString("\n  • ")
		b.WriteString(line)
	}
	return b.String()
}

func (c *SafetyClassifier) Classify(ctx context.Context, in SafetyInput) models.SafetyCheck {
	var warnings, blockers []string

	if in.IsMainWorktree {
		blockers = append(blockers, fmt.Sprintf("%s is the main worktree and cannot be cleaned up.", in.WorktreePath))
		return models.NewSafetyCheck(warnings, blockers)
	}

	if _, err := os.Stat(in.WorktreePath); os.IsNotExist(err) {
		warnings = append(warnings, fmt.Sprintf("Worktree directory %s no longer exists", in.WorktreePath))
	} else if blocker := c.checkUncommitted(in); blocker != "" {
		blockers = append(blockers, blocker)
	}

	if (in.CheckMerge || in.CheckRemote) && in.Branch != "" {
		blocker, warning := c.checkBranch(ctx, in)
		if blocker != "" {
			blockers = append(blockers, blocker)
		}
		if warning != "" {
			warnings = append(warnings, warning)
		}
	}

	check := models.NewSafetyCheck(warnings, blockers)
	log.InfoWith("Safety check completed", "branch", in.Branch, "safe", check.IsSafe, "blockers", len(blockers))
	return check
}

func (c *SafetyClassifier) checkUncommitted(in SafetyInput) string {
	dirty, err := c.changes.HasUncommittedChanges(in.WorktreePath)
	if err != nil {
		return fmt.Sprintf("Cannot check %s for uncommitted changes: %v", in.WorktreePath, err) + bullets(
			"Inspect it manually: git -C "+in.WorktreePath+" status",
			"Or re-run with --force to remove it anyway",
		)
	}
	if !dirty {
		return ""
	}
	return fmt.Sprintf("Worktree %s has uncommitted changes.", in.WorktreePath) + bullets(
		"Commit them: git -C "+in.WorktreePath+" add -A && git -C "+in.WorktreePath+" commit",
		"Or stash them: git -C "+in.WorktreePath+" stash",
		"Or re-run with --force to discard them (changes will be lost)",
	)
}

// checkBranch applies the remote/merge rows of the decision table.
func (c *SafetyClassifier) checkBranch(ctx context.Context, in SafetyInput) (blocker string, warning string) {
	status := models.RemoteBranchStatus{}
	if in.CheckRemote {
		status = c.remote.RemoteStatus(ctx, in.probeDir(), in.Branch)
	}

	switch {
	case status.NetworkError:
		return fmt.Sprintf("Cannot verify remote status of branch '%s': %s", in.Branch, strings.TrimSpace(status.ErrorMessage)) + bullets(
			"Check your network connection and try again",
			"Or re-run with --force to skip this check",
		), ""

	case status.Exists && status.LocalAhead:
		return fmt.Sprintf("Branch '%s' has commits that are not on the remote.", in.Branch) + bullets(
			"Push them: git push origin "+in.Branch,
			"Or re-run with --force to delete anyway (unpushed commits will be lost)",
		), ""

	case status.Exists:
		return "", ""
	}

	if !in.CheckMerge {
		return "", fmt.Sprintf("Branch '%s' has no remote and merge checking is disabled", in.Branch)
	}

	return c.checkMerged(in), ""
}

func (c *SafetyClassifier) checkMerged(in SafetyInput) string {
	if in.MergeTarget == "" {
		return fmt.Sprintf("Cannot verify that branch '%s' is merged: no merge target is configured.", in.Branch) + bullets(
			"Push it: git push -u origin "+in.Branch,
			"Or re-run with --force to delete anyway",
		)
	}

	merged, err := c.merge.IsMerged(in.probeDir(), in.Branch, in.MergeTarget)
	if err != nil {
		return fmt.Sprintf("Cannot verify that branch '%s' is merged into '%s': %v", in.Branch, in.MergeTarget, err) + bullets(
			"Push it: git push -u origin "+in.Branch,
			"Or re-run with --force to delete anyway",
		)
	}
	if merged {
		return ""
	}

	return fmt.Sprintf("Branch '%s' has not been pushed and is not merged into '%s'.", in.Branch, in.MergeTarget) + bullets(
		"Push it: git push -u origin "+in.Branch,
		"Or merge it: git checkout "+in.MergeTarget+" && git merge "+in.Branch,
		"Or re-run with --force to delete anyway (unmerged commits will be lost)",
	)
}

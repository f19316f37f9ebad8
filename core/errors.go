package core

import (
	"errors"
	"fmt"
	"strings"
)

// WorktreeNotFoundError is returned when no loom matches the requested identifier.
// Nothing has been touched when this error is returned.
type WorktreeNotFoundError struct {
	Identifier string
}

func (e *WorktreeNotFoundError) Error() string {
	return fmt.Sprintf("no worktree found for identifier: %s", e.Identifier)
}

// IsWorktreeNotFound checks if an error is a WorktreeNotFoundError
func IsWorktreeNotFound(err error) (*WorktreeNotFoundError, bool) {
	var notFound *WorktreeNotFoundError
	if errors.As(err, &notFound) {
		return notFound, true
	}
	return nil, false
}

// MainWorktreeError is returned when the resolved working tree is the primary checkout.
// This is enforced regardless of --force.
type MainWorktreeError struct {
	Path string
}

func (e *MainWorktreeError) Error() string {
	return fmt.Sprintf("refusing to clean up the main worktree at %s", e.Path)
}

// IsMainWorktreeErr checks if an error is a MainWorktreeError
func IsMainWorktreeErr(err error) (*MainWorktreeError, bool) {
	var mainErr *MainWorktreeError
	if errors.As(err, &mainErr) {
		return mainErr, true
	}
	return nil, false
}

// SafetyBlockedError is returned when the safety gate refuses to continue.
// Blockers holds complete remediation messages, one per failed check.
type SafetyBlockedError struct {
	Branch   string
	Blockers []string
}

func (e *SafetyBlockedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cannot clean up branch '%s' safely:", e.Branch)
	for _, blocker := range e.Blockers {
		b.WriteString("\n\n")
		b.WriteString(blocker)
	}
	return b.String()
}

// IsSafetyBlocked checks if an error is a SafetyBlockedError
func IsSafetyBlocked(err error) (*SafetyBlockedError, bool) {
	var blocked *SafetyBlockedError
	if errors.As(err, &blocked) {
		return blocked, true
	}
	return nil, false
}

// ProtectedBranchError is returned when a deletion targets a protected branch.
type ProtectedBranchError struct {
	Branch string
}

func (e *ProtectedBranchError) Error() string {
	return fmt.Sprintf("cannot delete protected branch: %s", e.Branch)
}

// IsProtectedBranch checks if an error is a ProtectedBranchError
func IsProtectedBranch(err error) (*ProtectedBranchError, bool) {
	var protected *ProtectedBranchError
	if errors.As(err, &protected) {
		return protected, true
	}
	return nil, false
}

// UnmergedBranchError is returned when git refuses a safe delete because the
// branch is not fully merged.
type UnmergedBranchError struct {
	Branch string
	Target string
	Output string
}

func (e *UnmergedBranchError) Error() string {
	target := e.Target
	if target == "" {
		target = "the current branch"
	}
	return fmt.Sprintf(
		"branch '%s' is not fully merged into %s. Merge it first, or re-run with --force to delete it anyway (unmerged commits will be lost)",
		e.Branch, target,
	)
}

// IsUnmergedBranch checks if an error is an UnmergedBranchError
func IsUnmergedBranch(err error) (*UnmergedBranchError, bool) {
	var unmerged *UnmergedBranchError
	if errors.As(err, &unmerged) {
		return unmerged, true
	}
	return nil, false
}

// UnverifiableMergeError is returned when neither the merge target's worktree
// nor the merge target ref itself can be found, so merge state cannot be proven.
type UnverifiableMergeError struct {
	Branch string
	Target string
}

func (e *UnverifiableMergeError) Error() string {
	return fmt.Sprintf(
		"cannot verify that branch '%s' is merged: merge target '%s' no longer exists. Re-run with --force to delete it anyway",
		e.Branch, e.Target,
	)
}

// IsUnverifiableMerge checks if an error is an UnverifiableMergeError
func IsUnverifiableMerge(err error) (*UnverifiableMergeError, bool) {
	var unverifiable *UnverifiableMergeError
	if errors.As(err, &unverifiable) {
		return unverifiable, true
	}
	return nil, false
}

// ErrPortInspectionUnavailable is returned when the host gives no way to list
// listening sockets, so a dev server can be neither found nor ruled out.
var ErrPortInspectionUnavailable = errors.New("port inspection is not available on this host")

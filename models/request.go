package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// WorkingTree is one entry of `git worktree list`.
type WorkingTree struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
	Commit string `json:"commit"`
}

// IdentifierKind tells the locator how to interpret a cleanup target.
type IdentifierKind string

const (
	IdentifierIssue  IdentifierKind = "issue"
	IdentifierPR     IdentifierKind = "pr"
	IdentifierBranch IdentifierKind = "branch"
)

// CleanupRequest is a parsed cleanup target.
type CleanupRequest struct {
	Kind          IdentifierKind
	Number        int    // set for issue and pr
	BranchName    string // set for branch, optional hint for pr
	OriginalInput string
}

// IsNumeric reports whether the request targets an issue or pull request number.
func (r CleanupRequest) IsNumeric() bool {
	return (r.Kind == IdentifierIssue || r.Kind == IdentifierPR) && r.Number > 0
}

// Label is the identifier used in results, symlink names and metadata keys:
// the number for issues and PRs, the branch name otherwise.
func (r CleanupRequest) Label() string {
	if r.IsNumeric() {
		return strconv.Itoa(r.Number)
	}
	return r.BranchName
}

var (
	issuePattern = regexp.MustCompile(`^(?:#|issue[-_/#]?)?(\d+)$`)
	prPattern    = regexp.MustCompile(`^pr[-_/#]?(\d+)$`)
)

// ParseIdentifier maps user input onto a CleanupRequest:
// "#12", "12" and "issue-12" are issues; "pr/12", "pr-12" and "PR#12" are
// pull requests; anything else is a branch name.
func ParseIdentifier(input string) (CleanupRequest, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return CleanupRequest{}, fmt.Errorf("identifier cannot be empty")
	}

	lower := strings.ToLower(trimmed)
	if m := prPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return CleanupRequest{Kind: IdentifierPR, Number: n, OriginalInput: input}, nil
		}
	}
	if m := issuePattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return CleanupRequest{Kind: IdentifierIssue, Number: n, OriginalInput: input}, nil
		}
	}

	return CleanupRequest{Kind: IdentifierBranch, BranchName: trimmed, OriginalInput: input}, nil
}

// CleanupOptions controls one teardown. Nil check flags default to DeleteBranch.
type CleanupOptions struct {
	DryRun            bool
	Force             bool
	DeleteBranch      bool
	KeepDatabase      bool
	CheckMergeSafety  *bool
	CheckRemoteBranch *bool
}

func (o CleanupOptions) ShouldCheckMerge() bool {
	if o.CheckMergeSafety != nil {
		return *o.CheckMergeSafety
	}
	return o.DeleteBranch
}

func (o CleanupOptions) ShouldCheckRemote() bool {
	if o.CheckRemoteBranch != nil {
		return *o.CheckRemoteBranch
	}
	return o.DeleteBranch
}

// BranchDeleteOptions is passed to the branch deletion strategy.
// MergeTargetBranch must be resolved before the working tree is removed.
type BranchDeleteOptions struct {
	DryRun            bool
	Force             bool
	MergeTargetBranch string
	WorktreePath      string
}

// RefStatus is the result of a local branch lookup.
type RefStatus int

const (
	RefAbsent RefStatus = iota
	RefExists
)

func (s RefStatus) String() string {
	if s == RefExists {
		return "exists"
	}
	return "absent"
}

// ProcessInfo describes a process listening on a dev-server port.
type ProcessInfo struct {
	PID         int
	Name        string
	CommandLine string
	Port        int
	IsDevServer bool
}

// DatabaseOutcome is the result of a database branch deletion attempt.
type DatabaseOutcome string

const (
	DatabaseDeleted      DatabaseOutcome = "deleted"
	DatabaseNotFound     DatabaseOutcome = "not-found"
	DatabaseUserDeclined DatabaseOutcome = "user-declined"
	DatabaseFailed       DatabaseOutcome = "failed"
	DatabaseSkipped      DatabaseOutcome = "skipped"
)

type DatabaseDeleteResult struct {
	Outcome      DatabaseOutcome
	BranchName   string
	ProviderName string
	Error        string
}

// Succeeded is true for every outcome except Failed.
func (r DatabaseDeleteResult) Succeeded() bool {
	return r.Outcome != DatabaseFailed
}

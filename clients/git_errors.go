package clients

import (
	"errors"
	"fmt"
	"strings"

	"loomctl/core"
)

// GitCommandError carries the arguments and combined output of a failed git command.
type GitCommandError struct {
	Args   []string
	Output string
	Err    error
}

func (e *GitCommandError) Error() string {
	return fmt.Sprintf("git %s failed: %v\nOutput: %s", strings.Join(e.Args, " "), e.Err, strings.TrimSpace(e.Output))
}

func (e *GitCommandError) Unwrap() error {
	return e.Err
}

// ClassifyBranchDeleteError turns a `git branch -d/-D` failure into the
// teardown's vocabulary. A branch that is already gone is success (nil);
// git's "not fully merged" refusal becomes *core.UnmergedBranchError; anything
// else is returned unchanged.
func ClassifyBranchDeleteError(branch, target string, err error) error {
	if err == nil {
		return nil
	}

	text := err.Error()
	var gitErr *GitCommandError
	if errors.As(err, &gitErr) {
		text = gitErr.Output + "\n" + text
	}
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist"):
		return nil
	case strings.Contains(lower, "not fully merged"):
		output := text
		if gitErr != nil {
			output = gitErr.Output
		}
		return &core.UnmergedBranchError{Branch: branch, Target: target, Output: strings.TrimSpace(output)}
	default:
		return err
	}
}

package clients

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"loomctl/core/log"
	"loomctl/models"
)

const defaultRemoteTimeout = 30 * time.Second

// GitClient shells out to git and gh. Every method takes the directory the
// command must run in as its first argument.
type GitClient struct {
	remote        string
	remoteTimeout time.Duration
	retryBackoff  func() backoff.BackOff
}

func NewGitClient() *GitClient {
	return &GitClient{
		remote:        "origin",
		remoteTimeout: defaultRemoteTimeout,
		retryBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 2 * time.Minute
			b.Multiplier = 2
			return b
		},
	}
}

// run executes git in dir and returns its combined output.
func (g *GitClient) run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), &GitCommandError{Args: args, Output: string(output), Err: err}
	}
	return string(output), nil
}

// runRemote executes a git command that talks to the network. It never
// prompts for credentials and is bounded by remoteTimeout.
func (g *GitClient) runRemote(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.remoteTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", g.remoteTimeout, err)
		}
		return string(output), &GitCommandError{Args: args, Output: string(output), Err: err}
	}
	return string(output), nil
}

// exitCode returns the process exit code carried by err, or -1.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// isRecoverableGHError checks if an error is a recoverable GitHub API error that should be retried
func isRecoverableGHError(err error, output string) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	outputStr := strings.ToLower(output)

	recoverablePatterns := []string{
		"timeout",
		"i/o timeout",
		"connection timeout",
		"dial tcp",
		"context deadline exceeded",
	}

	for _, pattern := range recoverablePatterns {
		if strings.Contains(errStr, pattern) || strings.Contains(outputStr, pattern) {
			return true
		}
	}

	return false
}

// executeWithRetryInDir runs a gh command with exponential backoff on
// recoverable errors. Only read-only lookups go through here.
func (g *GitClient) executeWithRetryInDir(workDir, operationName string, name string, args ...string) ([]byte, error) {
	var output []byte
	var err error

	retryOperation := func() error {
		cmd := exec.Command(name, args...)
		cmd.Dir = workDir
		output, err = cmd.CombinedOutput()

		if err != nil && isRecoverableGHError(err, string(output)) {
			log.Info("⏳ GitHub API recoverable error detected for %s, retrying...", operationName)
			return err
		}

		return nil
	}

	retryErr := backoff.Retry(retryOperation, g.retryBackoff())
	if retryErr != nil {
		if err != nil {
			return output, err
		}
		return output, retryErr
	}

	return output, err
}

// ListWorktrees returns every worktree of the repository containing dir.
// The first entry is always the main worktree.
func (g *GitClient) ListWorktrees(dir string) ([]models.WorkingTree, error) {
	log.Debug("📋 Starting to list worktrees in %s", dir)

	output, err := g.run(dir, "worktree", "list", "--porcelain")
	if err != nil {
		log.Error("❌ Failed to list worktrees: %v", err)
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}

	worktrees := parseWorktreeList(output)
	log.Debug("✅ Found %d worktrees", len(worktrees))
	return worktrees, nil
}

// parseWorktreeList parses `git worktree list --porcelain`:
//
//	worktree /path/to/worktree
//	HEAD <commit>
//	branch refs/heads/<branch>
//	(empty line)
func parseWorktreeList(output string) []models.WorkingTree {
	var worktrees []models.WorkingTree
	var current models.WorkingTree

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if current.Path != "" {
				worktrees = append(worktrees, current)
				current = models.WorkingTree{}
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}

	if current.Path != "" {
		worktrees = append(worktrees, current)
	}
	return worktrees
}

// RemoveWorktree removes the worktree at path, running from dir.
// Without force git refuses to remove a worktree with local modifications.
func (g *GitClient) RemoveWorktree(dir, path string, force bool) error {
	log.Info("📋 Starting to remove worktree at %s", path)

	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}

	if _, err := g.run(dir, args...); err != nil {
		log.Error("❌ Failed to remove worktree: %v", err)
		return fmt.Errorf("failed to remove worktree: %w", err)
	}

	log.Info("✅ Successfully removed worktree at %s", path)
	return nil
}

// PruneWorktrees removes administrative files for worktrees that no longer exist on disk
func (g *GitClient) PruneWorktrees(dir string) error {
	if _, err := g.run(dir, "worktree", "prune"); err != nil {
		log.Error("❌ Failed to prune worktrees: %v", err)
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	return nil
}

// HasUncommittedChanges reports staged, unstaged or untracked changes in dir.
func (g *GitClient) HasUncommittedChanges(dir string) (bool, error) {
	output, err := g.run(dir, "status", "--porcelain")
	if err != nil {
		log.Error("❌ Failed to check git status in %s: %v", dir, err)
		return false, fmt.Errorf("failed to check git status: %w", err)
	}

	hasChanges := strings.TrimSpace(output) != ""
	log.Debug("ℹ️ Uncommitted changes in %s: %v", dir, hasChanges)
	return hasChanges, nil
}

// RefExists looks up a local branch. A missing branch is RefAbsent, not an error.
func (g *GitClient) RefExists(dir, branch string) (models.RefStatus, error) {
	_, err := g.run(dir, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return models.RefExists, nil
	}
	if exitCode(err) == 1 {
		return models.RefAbsent, nil
	}
	return models.RefAbsent, fmt.Errorf("failed to look up branch %s: %w", branch, err)
}

// DeleteBranch runs `git branch -d` (or -D with force) from dir. Failures are
// returned as *GitCommandError for ClassifyBranchDeleteError.
func (g *GitClient) DeleteBranch(dir, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	log.Info("📋 Starting to delete local branch %s (%s) from %s", branch, flag, dir)

	if _, err := g.run(dir, "branch", flag, branch); err != nil {
		log.Error("❌ Failed to delete local branch %s: %v", branch, err)
		return err
	}

	log.Info("✅ Successfully deleted local branch: %s", branch)
	return nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (g *GitClient) IsAncestor(dir, ancestor, descendant string) (bool, error) {
	_, err := g.run(dir, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, fmt.Errorf("failed to check ancestry of %s in %s: %w", ancestor, descendant, err)
}

// IsMerged reports whether every commit of branch is reachable from target.
// It errors when target does not resolve, since merge state is then unknown.
func (g *GitClient) IsMerged(dir, branch, target string) (bool, error) {
	if _, err := g.run(dir, "rev-parse", "--verify", "--quiet", target+"^{commit}"); err != nil {
		return false, fmt.Errorf("merge target %s cannot be resolved: %w", target, err)
	}
	return g.IsAncestor(dir, branch, target)
}

// hasRemote reports whether the configured remote exists in dir. Only
// `git remote get-url` exit code 2 means the remote is absent; any other
// failure is returned.
func (g *GitClient) hasRemote(dir string) (bool, error) {
	_, err := g.run(dir, "remote", "get-url", g.remote)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 2 {
		return false, nil
	}
	return false, fmt.Errorf("failed to look up remote %s: %w", g.remote, err)
}

// RemoteStatus queries the remote for branch and compares it with the local
// branch. It never caches; any network failure sets NetworkError.
func (g *GitClient) RemoteStatus(ctx context.Context, dir, branch string) models.RemoteBranchStatus {
	log.Info("📋 Starting to check remote status of %s", branch)

	hasRemote, err := g.hasRemote(dir)
	if err != nil {
		log.Error("❌ Failed to check remote for %s: %v", branch, err)
		return models.RemoteBranchStatus{NetworkError: true, ErrorMessage: err.Error()}
	}
	if !hasRemote {
		log.Info("ℹ️ No %s remote configured", g.remote)
		return models.RemoteBranchStatus{Exists: false}
	}

	output, err := g.runRemote(ctx, dir, "ls-remote", "--heads", g.remote, "refs/heads/"+branch)
	if err != nil {
		log.Error("❌ Failed to query remote for %s: %v", branch, err)
		return models.RemoteBranchStatus{NetworkError: true, ErrorMessage: err.Error()}
	}
	if strings.TrimSpace(output) == "" {
		log.Info("ℹ️ Remote branch %s does not exist", branch)
		return models.RemoteBranchStatus{Exists: false}
	}

	refspec := fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", branch, g.remote, branch)
	if _, err := g.runRemote(ctx, dir, "fetch", "--no-tags", g.remote, refspec); err != nil {
		log.Error("❌ Failed to fetch %s: %v", branch, err)
		return models.RemoteBranchStatus{Exists: true, NetworkError: true, ErrorMessage: err.Error()}
	}

	remoteRef := fmt.Sprintf("%s/%s", g.remote, branch)
	counts, err := g.run(dir, "rev-list", "--left-right", "--count", remoteRef+"..."+branch)
	if err != nil {
		return models.RemoteBranchStatus{Exists: true, NetworkError: true, ErrorMessage: err.Error()}
	}

	remoteAhead, localAhead, err := parseLeftRightCount(counts)
	if err != nil {
		return models.RemoteBranchStatus{Exists: true, NetworkError: true, ErrorMessage: err.Error()}
	}

	log.Info("✅ Remote branch %s exists (remote ahead: %d, local ahead: %d)", branch, remoteAhead, localAhead)
	return models.RemoteBranchStatus{
		Exists:      true,
		RemoteAhead: remoteAhead > 0,
		LocalAhead:  localAhead > 0,
	}
}

func parseLeftRightCount(output string) (int, int, error) {
	fields := strings.Fields(output)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output: %q", output)
	}
	left, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("unexpected rev-list output: %q", output)
	}
	right, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("unexpected rev-list output: %q", output)
	}
	return left, right, nil
}

// CommonDir returns the absolute git common dir shared by all worktrees.
func (g *GitClient) CommonDir(dir string) (string, error) {
	output, err := g.run(dir, "rev-parse", "--git-common-dir")
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}

	commonDir := strings.TrimSpace(output)
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(dir, commonDir)
	}
	return filepath.Clean(commonDir), nil
}

// PRHeadBranch asks gh for the head branch of pull request number.
func (g *GitClient) PRHeadBranch(dir string, number int) (string, error) {
	log.Info("📋 Starting to look up head branch of PR #%d", number)

	output, err := g.executeWithRetryInDir(dir, "pr view", "gh", "pr", "view", strconv.Itoa(number), "--json", "headRefName", "--jq", ".headRefName")
	if err != nil {
		log.Error("❌ Failed to look up PR #%d: %v\nOutput: %s", number, err, string(output))
		return "", fmt.Errorf("failed to look up PR #%d: %w\nOutput: %s", number, err, string(output))
	}

	branch := strings.TrimSpace(string(output))
	if branch == "" {
		return "", fmt.Errorf("PR #%d has no head branch", number)
	}

	log.Info("✅ PR #%d head branch is %s", number, branch)
	return branch, nil
}

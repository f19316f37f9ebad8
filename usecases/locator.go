package usecases

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"loomctl/core/log"
	"loomctl/models"
)

// GitWorktreeLocator finds looms among the worktrees of the repository at repoDir.
type GitWorktreeLocator struct {
	git     WorktreeGit
	repoDir string
}

func NewGitWorktreeLocator(git WorktreeGit, repoDir string) *GitWorktreeLocator {
	return &GitWorktreeLocator{git: git, repoDir: repoDir}
}

func numberPattern(prefix string, number int) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|[/_-])` + prefix + `[-_]?` + strconv.Itoa(number) + `([^0-9]|$)`)
}

// findMatching returns the first linked worktree whose branch or directory
// name matches, falling back to the main worktree so callers can refuse it.
func (l *GitWorktreeLocator) findMatching(match func(models.WorkingTree) bool) (*models.WorkingTree, error) {
	worktrees, err := l.git.ListWorktrees(l.repoDir)
	if err != nil {
		return nil, err
	}

	var mainMatch *models.WorkingTree
	for i := range worktrees {
		if !match(worktrees[i]) {
			continue
		}
		if i == 0 {
			mainMatch = &worktrees[0]
			continue
		}
		found := worktrees[i]
		return &found, nil
	}
	return mainMatch, nil
}

func (l *GitWorktreeLocator) FindByIssue(number int) (*models.WorkingTree, error) {
	pattern := numberPattern("issue", number)
	return l.findMatching(func(wt models.WorkingTree) bool {
		return pattern.MatchString(wt.Branch) || pattern.MatchString(filepath.Base(wt.Path))
	})
}

// FindByPR tries the branch hint, then pr-N naming, then asks gh for the PR's head branch.
func (l *GitWorktreeLocator) FindByPR(number int, branchHint string) (*models.WorkingTree, error) {
	if branchHint != "" {
		tree, err := l.FindByBranch(branchHint)
		if err != nil || tree != nil {
			return tree, err
		}
	}

	pattern := numberPattern("pr", number)
	tree, err := l.findMatching(func(wt models.WorkingTree) bool {
		return pattern.MatchString(wt.Branch) || pattern.MatchString(filepath.Base(wt.Path))
	})
	if err != nil || tree != nil {
		return tree, err
	}

	head, err := l.git.PRHeadBranch(l.repoDir, number)
	if err != nil {
		log.Warn("⚠️ Could not resolve head branch of PR #%d: %v", number, err)
		return nil, nil
	}
	return l.FindByBranch(head)
}

func (l *GitWorktreeLocator) FindByBranch(name string) (*models.WorkingTree, error) {
	return l.findMatching(func(wt models.WorkingTree) bool {
		return wt.Branch == name
	})
}

// MainWorktreePath is the first entry of `git worktree list`.
func (l *GitWorktreeLocator) MainWorktreePath() (string, error) {
	worktrees, err := l.git.ListWorktrees(l.repoDir)
	if err != nil {
		return "", err
	}
	if len(worktrees) == 0 {
		return "", fmt.Errorf("no worktrees found in %s", l.repoDir)
	}
	return worktrees[0].Path, nil
}

func normalizePath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}

// IsMainWorktree fails closed: if the main worktree cannot be determined the
// tree is treated as main.
func (l *GitWorktreeLocator) IsMainWorktree(tree models.WorkingTree) bool {
	mainPath, err := l.MainWorktreePath()
	if err != nil {
		log.Error("❌ Could not determine main worktree: %v", err)
		return true
	}
	return normalizePath(mainPath) == normalizePath(tree.Path)
}

// Remove deletes the worktree from the main checkout and prunes stale entries.
func (l *GitWorktreeLocator) Remove(path string, force bool) error {
	mainPath, err := l.MainWorktreePath()
	if err != nil {
		return err
	}

	if err := l.git.RemoveWorktree(mainPath, path, force); err != nil {
		return err
	}

	if err := l.git.PruneWorktrees(mainPath); err != nil {
		log.Warn("⚠️ Failed to prune worktrees after removing %s: %v", path, err)
	}
	return nil
}

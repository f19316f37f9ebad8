package usecases

import (
	"fmt"

	"loomctl/clients"
	"loomctl/core"
	"loomctl/core/log"
	"loomctl/core/settings"
	"loomctl/models"
)

// BranchDeletionStrategy deletes a loom's branch once its worktree is gone,
// choosing between `git branch -d` and `-D` and the directory to run from.
type BranchDeletionStrategy struct {
	git      BranchGit
	locator  WorktreeLocator
	settings SettingsProvider
}

func NewBranchDeletionStrategy(git BranchGit, locator WorktreeLocator, settings SettingsProvider) *BranchDeletionStrategy {
	return &BranchDeletionStrategy{git: git, locator: locator, settings: settings}
}

// CheckProtected fails with *core.ProtectedBranchError when branch is the
// main branch or one of the configured protected branches.
func (s *BranchDeletionStrategy) CheckProtected(branch, cwd string) error {
	mainBranch, err := s.settings.MainBranch(cwd)
	if err != nil {
		return fmt.Errorf("failed to load main branch: %w", err)
	}
	configured, err := s.settings.ProtectedBranches(cwd)
	if err != nil {
		return fmt.Errorf("failed to load protected branches: %w", err)
	}

	for _, protected := range settings.ProtectedSet(mainBranch, configured) {
		if protected == branch {
			return &core.ProtectedBranchError{Branch: branch}
		}
	}
	return nil
}

// DeleteBranch reports whether a branch was (or in dry-run would be) deleted.
// A branch that does not exist is success with false.
func (s *BranchDeletionStrategy) DeleteBranch(branch string, options models.BranchDeleteOptions, cwd string) (bool, error) {
	if err := s.CheckProtected(branch, cwd); err != nil {
		return false, err
	}

	dir := cwd
	if dir == "" {
		mainPath, err := s.locator.MainWorktreePath()
		if err != nil {
			return false, fmt.Errorf("failed to resolve main worktree: %w", err)
		}
		dir = mainPath
	}

	status, err := s.git.RefExists(dir, branch)
	if err != nil {
		return false, err
	}
	if status == models.RefAbsent {
		log.Info("ℹ️ Branch %s does not exist - nothing to delete", branch)
		return false, nil
	}

	if options.DryRun {
		return true, nil
	}

	target := options.MergeTargetBranch
	runDir, force, err := s.plan(branch, target, dir, options.Force)
	if err != nil {
		return false, err
	}

	rawErr := s.git.DeleteBranch(runDir, branch, force)
	if rawErr == nil {
		return true, nil
	}
	if classified := clients.ClassifyBranchDeleteError(branch, target, rawErr); classified != nil {
		return false, classified
	}
	return false, nil
}

// plan picks the directory and flag for the delete:
//   - force: -D from dir
//   - target checked out somewhere: -d from that worktree, so git judges
//     merge state against the target
//   - target not checked out: ancestry probe, -D from dir when merged,
//     otherwise -d so git refuses loudly
//   - target ref gone: merge state cannot be verified
//   - no target: -d from dir
func (s *BranchDeletionStrategy) plan(branch, target, dir string, force bool) (string, bool, error) {
	if force {
		return dir, true, nil
	}
	if target == "" {
		return dir, false, nil
	}

	targetTree, err := s.locator.FindByBranch(target)
	if err != nil {
		return "", false, fmt.Errorf("failed to locate worktree for %s: %w", target, err)
	}
	if targetTree != nil {
		return targetTree.Path, false, nil
	}

	targetStatus, err := s.git.RefExists(dir, target)
	if err != nil {
		return "", false, err
	}
	if targetStatus == models.RefAbsent {
		return "", false, &core.UnverifiableMergeError{Branch: branch, Target: target}
	}

	merged, err := s.git.IsAncestor(dir, branch, target)
	if err != nil {
		return "", false, err
	}
	if merged {
		log.Info("ℹ️ Branch %s is merged into %s, deleting from %s", branch, target, dir)
		return dir, true, nil
	}
	return dir, false, nil
}

package usecases

import (
	"context"

	"loomctl/models"
)

// ChangeDetector reports uncommitted work in a directory.
type ChangeDetector interface {
	HasUncommittedChanges(dir string) (bool, error)
}

// RemoteStatusProbe compares a local branch with its remote counterpart.
type RemoteStatusProbe interface {
	RemoteStatus(ctx context.Context, dir, branch string) models.RemoteBranchStatus
}

// MergeProbe reports whether branch is fully contained in target.
type MergeProbe interface {
	IsMerged(dir, branch, target string) (bool, error)
}

// BranchGit is the git surface the branch deletion strategy needs.
type BranchGit interface {
	RefExists(dir, branch string) (models.RefStatus, error)
	DeleteBranch(dir, branch string, force bool) error
	IsAncestor(dir, ancestor, descendant string) (bool, error)
}

// WorktreeGit is the git surface the worktree locator needs.
type WorktreeGit interface {
	ListWorktrees(dir string) ([]models.WorkingTree, error)
	RemoveWorktree(dir, path string, force bool) error
	PruneWorktrees(dir string) error
	PRHeadBranch(dir string, number int) (string, error)
}

// WorktreeLocator finds looms. Find* return nil when nothing matches.
type WorktreeLocator interface {
	FindByIssue(number int) (*models.WorkingTree, error)
	FindByPR(number int, branchHint string) (*models.WorkingTree, error)
	FindByBranch(name string) (*models.WorkingTree, error)
	IsMainWorktree(tree models.WorkingTree) bool
	MainWorktreePath() (string, error)
	Remove(path string, force bool) error
}

type SettingsProvider interface {
	MainBranch(cwd string) (string, error)
	ProtectedBranches(cwd string) ([]string, error)
	MergeTargetBranch(worktreePath string) (string, error)
}

type ProcessReaper interface {
	PortFor(number int) int
	Detect(port int) (*models.ProcessInfo, error)
	Terminate(pid int) (bool, error)
	VerifyPortFree(port int) bool
}

type DatabaseBranchDeleter interface {
	ShouldCleanup(envFile string) bool
	DeleteBranchIfConfigured(branchName string, shouldCleanup, isPreview bool, cwd string) models.DatabaseDeleteResult
}

type MetadataStore interface {
	Load(worktreePath string) (*models.LoomMetadata, error)
	Delete(worktreePath string) error
	Archive(worktreePath string) (string, error)
}

type SymlinkCleaner interface {
	RemoveForIdentifier(identifier, worktreePath string, dryRun bool) ([]string, error)
}

// SafetyGate decides whether a loom can be torn down without losing work.
type SafetyGate interface {
	Classify(ctx context.Context, input SafetyInput) models.SafetyCheck
}

// BranchDeleter deletes one local branch after the worktree is gone.
type BranchDeleter interface {
	CheckProtected(branch, cwd string) error
	DeleteBranch(branch string, options models.BranchDeleteOptions, cwd string) (bool, error)
}

// Cleaner is the single-target teardown used by the batch runner.
type Cleaner interface {
	Cleanup(ctx context.Context, request models.CleanupRequest, options models.CleanupOptions) (models.CleanupResult, error)
}

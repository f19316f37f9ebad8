package usecases

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"loomctl/core"
	"loomctl/core/log"
	"loomctl/models"
)

const dryRunPrefix = "[DRY RUN] Would "

// TeardownDeps are the collaborators of the orchestrator. Locator, Safety,
// Branches and Settings are required; a nil Processes, Database, Metadata or
// Symlinks means that step is not configured and is skipped.
type TeardownDeps struct {
	Locator   WorktreeLocator
	Safety    SafetyGate
	Branches  BranchDeleter
	Settings  SettingsProvider
	Processes ProcessReaper
	Database  DatabaseBranchDeleter
	Metadata  MetadataStore
	Symlinks  SymlinkCleaner
}

// TeardownOrchestrator runs the cleanup sequence for one loom.
type TeardownOrchestrator struct {
	deps TeardownDeps
}

func NewTeardownOrchestrator(deps TeardownDeps) (*TeardownOrchestrator, error) {
	switch {
	case deps.Locator == nil:
		return nil, errors.New("worktree locator is required")
	case deps.Safety == nil:
		return nil, errors.New("safety gate is required")
	case deps.Branches == nil:
		return nil, errors.New("branch deleter is required")
	case deps.Settings == nil:
		return nil, errors.New("settings provider is required")
	}
	return &TeardownOrchestrator{deps: deps}, nil
}

// teardownRun carries the state resolved before any mutation.
type teardownRun struct {
	request       models.CleanupRequest
	options       models.CleanupOptions
	tree          models.WorkingTree
	mainPath      string
	mergeTarget   string
	recorded      *models.LoomMetadata
	shouldCleanDB bool
	logger        *log.Scoped
}

// Cleanup tears down the loom named by request. It returns an error only when
// a gate refuses before anything has been touched; step failures are recorded
// in the result.
func (o *TeardownOrchestrator) Cleanup(ctx context.Context, request models.CleanupRequest, options models.CleanupOptions) (models.CleanupResult, error) {
	runID := uuid.NewString()
	logger := log.With("run_id", runID, "identifier", request.OriginalInput)
	timer := log.StartTimer("cleanup")
	defer timer.LogElapsed("run_id", runID)

	logger.Info("📋 Starting cleanup", "dry_run", options.DryRun, "force", options.Force)

	tree, err := o.resolve(request)
	if err != nil {
		return models.CleanupResult{}, err
	}

	if o.deps.Locator.IsMainWorktree(*tree) {
		return models.CleanupResult{}, &core.MainWorktreeError{Path: tree.Path}
	}

	run := &teardownRun{request: request, options: options, tree: *tree, logger: logger}

	if o.deps.Metadata != nil {
		run.recorded, err = o.deps.Metadata.Load(tree.Path)
		if err != nil {
			logger.Warn("⚠️ Could not read loom metadata", "error", err)
		}
	}

	// Read while the worktree directory still exists
	run.mergeTarget = o.mergeTarget(run)

	run.mainPath, err = o.deps.Locator.MainWorktreePath()
	if err != nil {
		logger.Warn("⚠️ Could not resolve main worktree path", "error", err)
	}

	if options.DeleteBranch && tree.Branch != "" {
		if err := o.deps.Branches.CheckProtected(tree.Branch, run.mainPath); err != nil {
			return models.CleanupResult{}, err
		}
	}

	if !options.Force {
		check := o.deps.Safety.Classify(ctx, SafetyInput{
			Branch:       tree.Branch,
			WorktreePath: tree.Path,
			MainPath:     run.mainPath,
			MergeTarget:  run.mergeTarget,
			CheckMerge:   options.ShouldCheckMerge(),
			CheckRemote:  options.ShouldCheckRemote(),
		})
		for _, warning := range check.Warnings {
			logger.Warn("⚠️ " + warning)
		}
		if !check.IsSafe {
			logger.Error("❌ Safety check blocked cleanup", "blockers", len(check.Blockers))
			return models.CleanupResult{}, &core.SafetyBlockedError{Branch: tree.Branch, Blockers: check.Blockers}
		}
	}

	if err := ctx.Err(); err != nil {
		return models.CleanupResult{}, err
	}

	result := models.NewCleanupResult(request.Label(), tree.Branch, options.DryRun)
	result.RunID = runID
	result.WorktreePath = tree.Path
	if o.deps.Processes != nil && request.IsNumeric() {
		result.Port = o.deps.Processes.PortFor(request.Number)
	}

	result = o.stopDevServer(run, result)

	if o.deps.Database != nil && !options.KeepDatabase {
		run.shouldCleanDB = run.recordedDatabaseBranch() != "" ||
			o.deps.Database.ShouldCleanup(filepath.Join(tree.Path, ".env"))
	}

	result = o.removeWorktree(run, result)
	result = o.archiveRecap(run, result)
	result = o.deleteBranch(run, result)
	result = o.removeSymlinks(run, result)
	result = o.deleteDatabase(run, result)
	result = o.deleteMetadata(run, result)

	if result.Success() {
		logger.Info("✅ Cleanup completed", "operations", len(result.Operations()))
	} else {
		logger.Error("❌ Cleanup completed with errors", "errors", len(result.Errors()))
	}
	return result, nil
}

// mergeTarget prefers the parent branch recorded when the loom was created
// over the worktree's settings.
func (o *TeardownOrchestrator) mergeTarget(run *teardownRun) string {
	if run.recorded != nil && run.recorded.ParentBranch != "" {
		run.logger.Debug("Using recorded parent branch as merge target", "branch", run.recorded.ParentBranch)
		return run.recorded.ParentBranch
	}
	target, err := o.deps.Settings.MergeTargetBranch(run.tree.Path)
	if err != nil {
		run.logger.Warn("⚠️ Could not resolve merge target", "error", err)
		return ""
	}
	return target
}

func (o *TeardownOrchestrator) resolve(request models.CleanupRequest) (*models.WorkingTree, error) {
	var tree *models.WorkingTree
	var err error

	switch request.Kind {
	case models.IdentifierIssue:
		tree, err = o.deps.Locator.FindByIssue(request.Number)
	case models.IdentifierPR:
		tree, err = o.deps.Locator.FindByPR(request.Number, request.BranchName)
	default:
		tree, err = o.deps.Locator.FindByBranch(request.BranchName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up worktree for %s: %w", request.OriginalInput, err)
	}
	if tree == nil {
		return nil, &core.WorktreeNotFoundError{Identifier: request.OriginalInput}
	}
	return tree, nil
}

func (o *TeardownOrchestrator) stopDevServer(run *teardownRun, result models.CleanupResult) models.CleanupResult {
	if o.deps.Processes == nil || !run.request.IsNumeric() {
		return result
	}

	port := o.deps.Processes.PortFor(run.request.Number)
	info, err := o.deps.Processes.Detect(port)
	if errors.Is(err, core.ErrPortInspectionUnavailable) {
		run.logger.Warn("⚠️ Cannot check for a dev server", "port", port, "error", err)
		return result.With(models.Succeeded(models.OpDevServer,
			fmt.Sprintf("Could not check port %d for a dev server; stop it by hand if one is running", port)))
	}
	if err != nil {
		return result.With(models.Failed(models.OpDevServer, fmt.Sprintf("Failed to check port %d for a dev server", port), err))
	}
	if info == nil {
		return result.With(models.Succeeded(models.OpDevServer, fmt.Sprintf("No dev server running on port %d", port)))
	}
	if !info.IsDevServer {
		return result.With(models.Succeeded(models.OpDevServer,
			fmt.Sprintf("No dev server running on port %d (%s, pid %d, left running)", port, info.Name, info.PID)))
	}
	if run.options.DryRun {
		return result.With(models.Succeeded(models.OpDevServer,
			fmt.Sprintf("%sterminate dev server %s (pid %d) on port %d", dryRunPrefix, info.Name, info.PID, port)))
	}

	terminated, err := o.deps.Processes.Terminate(info.PID)
	if err != nil || !terminated {
		if err == nil {
			err = fmt.Errorf("process %d is still running", info.PID)
		}
		return result.With(models.Failed(models.OpDevServer,
			fmt.Sprintf("Failed to terminate dev server %s (pid %d) on port %d", info.Name, info.PID, port), err))
	}

	message := fmt.Sprintf("Terminated dev server %s (pid %d) on port %d", info.Name, info.PID, port)
	if !o.deps.Processes.VerifyPortFree(port) {
		message += fmt.Sprintf(", but port %d is still in use", port)
	}
	return result.With(models.Succeeded(models.OpDevServer, message))
}

func (o *TeardownOrchestrator) removeWorktree(run *teardownRun, result models.CleanupResult) models.CleanupResult {
	path := run.tree.Path
	if run.options.DryRun {
		return result.With(models.Succeeded(models.OpWorktree, dryRunPrefix+"remove worktree at "+path))
	}

	if err := o.deps.Locator.Remove(path, run.options.Force); err != nil {
		run.logger.Error("❌ Failed to remove worktree", "path", path, "error", err)
		return result.With(models.Failed(models.OpWorktree, "Failed to remove worktree at "+path, err))
	}
	return result.With(models.Succeeded(models.OpWorktree, "Removed worktree at "+path))
}

func (o *TeardownOrchestrator) archiveRecap(run *teardownRun, result models.CleanupResult) models.CleanupResult {
	if o.deps.Metadata == nil {
		return result
	}
	if run.options.DryRun {
		return result.With(models.Succeeded(models.OpRecap, dryRunPrefix+"archive session recap"))
	}

	archived, err := o.deps.Metadata.Archive(run.tree.Path)
	if err != nil {
		run.logger.Warn("⚠️ Failed to archive recap", "error", err)
		return result.With(models.Failed(models.OpRecap, "Failed to archive session recap", err))
	}
	if archived == "" {
		return result.With(models.Succeeded(models.OpRecap, "No session recap to archive"))
	}
	return result.With(models.Succeeded(models.OpRecap, "Archived session recap to "+archived))
}

func (o *TeardownOrchestrator) deleteBranch(run *teardownRun, result models.CleanupResult) models.CleanupResult {
	branch := run.tree.Branch
	if branch == "" {
		return result.With(models.Succeeded(models.OpBranch, "No branch to delete (detached HEAD)"))
	}
	if !run.options.DeleteBranch {
		return result.With(models.Succeeded(models.OpBranch, fmt.Sprintf("Kept branch %s", branch)))
	}

	deleted, err := o.deps.Branches.DeleteBranch(branch, models.BranchDeleteOptions{
		DryRun:            run.options.DryRun,
		Force:             run.options.Force,
		MergeTargetBranch: run.mergeTarget,
		WorktreePath:      run.tree.Path,
	}, run.mainPath)

	switch {
	case err != nil:
		run.logger.Error("❌ Failed to delete branch", "branch", branch, "error", err)
		return result.With(models.Failed(models.OpBranch, fmt.Sprintf("Failed to delete branch %s", branch), err))
	case run.options.DryRun && deleted:
		return result.With(models.Succeeded(models.OpBranch, dryRunPrefix+"delete branch "+branch))
	case run.options.DryRun:
		return result.With(models.Succeeded(models.OpBranch, dryRunPrefix+"skip branch "+branch+" (already deleted)"))
	case !deleted:
		return result.With(models.Succeeded(models.OpBranch, fmt.Sprintf("Branch %s already deleted", branch)))
	default:
		return result.With(models.Succeeded(models.OpBranch, fmt.Sprintf("Deleted branch %s", branch)))
	}
}

func (o *TeardownOrchestrator) removeSymlinks(run *teardownRun, result models.CleanupResult) models.CleanupResult {
	if o.deps.Symlinks == nil {
		return result
	}

	removed, err := o.deps.Symlinks.RemoveForIdentifier(run.request.Label(), run.tree.Path, run.options.DryRun)
	if err != nil {
		run.logger.Warn("⚠️ Failed to remove CLI symlinks", "error", err)
		return result.With(models.Failed(models.OpCLISymlinks, "Failed to remove CLI symlinks", err))
	}
	if run.options.DryRun {
		return result.With(models.Succeeded(models.OpCLISymlinks, fmt.Sprintf("%sremove %d CLI symlink(s)", dryRunPrefix, len(removed))))
	}
	return result.With(models.Succeeded(models.OpCLISymlinks, fmt.Sprintf("Removed %d CLI symlink(s)", len(removed))))
}

func (o *TeardownOrchestrator) deleteDatabase(run *teardownRun, result models.CleanupResult) models.CleanupResult {
	switch {
	case o.deps.Database == nil:
		return result.With(models.Succeeded(models.OpDatabase, "Database cleanup not configured, skipping"))
	case run.options.KeepDatabase:
		return result.With(models.Succeeded(models.OpDatabase, "Keeping database branch"))
	case !run.shouldCleanDB:
		return result.With(models.Succeeded(models.OpDatabase, "No database branch provisioned for this loom"))
	case run.options.DryRun:
		return result.With(models.Succeeded(models.OpDatabase, dryRunPrefix+"delete database branch for "+run.tree.Branch))
	}

	// A recorded name is exact; otherwise the provider derives it from the git branch
	branch, isPreview := run.recordedDatabaseBranch(), false
	if branch == "" {
		branch = run.tree.Branch
		if branch == "" {
			branch = run.request.Label()
		}
		isPreview = run.request.Kind == models.IdentifierPR
	}

	db := o.deps.Database.DeleteBranchIfConfigured(branch, true, isPreview, run.mainPath)
	result.DatabaseBranch = db.BranchName
	switch db.Outcome {
	case models.DatabaseDeleted:
		return result.With(models.Succeeded(models.OpDatabase, fmt.Sprintf("Deleted %s database branch %s", db.ProviderName, db.BranchName)))
	case models.DatabaseNotFound:
		return result.With(models.Succeeded(models.OpDatabase, fmt.Sprintf("Database branch %s already deleted", db.BranchName)))
	case models.DatabaseUserDeclined:
		return result.With(models.Succeeded(models.OpDatabase, fmt.Sprintf("Kept database branch %s at user request", db.BranchName)))
	case models.DatabaseSkipped:
		return result.With(models.Succeeded(models.OpDatabase, "No database branch provisioned for this loom"))
	default:
		err := errors.New(db.Error)
		run.logger.Error("❌ Failed to delete database branch", "branch", db.BranchName, "error", db.Error)
		return result.With(models.Failed(models.OpDatabase, fmt.Sprintf("Failed to delete database branch %s", db.BranchName), err))
	}
}

func (r *teardownRun) recordedDatabaseBranch() string {
	if r.recorded == nil {
		return ""
	}
	return r.recorded.DatabaseBranch
}

func (o *TeardownOrchestrator) deleteMetadata(run *teardownRun, result models.CleanupResult) models.CleanupResult {
	if o.deps.Metadata == nil {
		return result
	}
	if run.options.DryRun {
		return result.With(models.Succeeded(models.OpMetadata, dryRunPrefix+"delete loom metadata"))
	}

	if err := o.deps.Metadata.Delete(run.tree.Path); err != nil {
		run.logger.Warn("⚠️ Failed to delete loom metadata", "error", err)
		return result.With(models.Failed(models.OpMetadata, "Failed to delete loom metadata", err))
	}
	return result.With(models.Succeeded(models.OpMetadata, "Deleted loom metadata"))
}

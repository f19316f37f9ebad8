package usecases

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"

	"loomctl/core"
	"loomctl/models"
)

func issueRequest(n int) models.CleanupRequest {
	request, err := models.ParseIdentifier("#" + strconv.Itoa(n))
	if err != nil {
		panic(err)
	}
	return request
}

func fullCleanup() models.CleanupOptions {
	return models.CleanupOptions{DeleteBranch: true}
}

func TestNewTeardownOrchestrator_RequiresCoreDeps(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*TeardownDeps)
	}{
		{name: "locator", mutate: func(d *TeardownDeps) { d.Locator = nil }},
		{name: "safety", mutate: func(d *TeardownDeps) { d.Safety = nil }},
		{name: "branches", mutate: func(d *TeardownDeps) { d.Branches = nil }},
		{name: "settings", mutate: func(d *TeardownDeps) { d.Settings = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := f.deps()
			tt.mutate(&deps)
			if _, err := NewTeardownOrchestrator(deps); err == nil {
				t.Errorf("Expected an error when %s is missing", tt.name)
			}
		})
	}

	deps := f.deps()
	deps.Processes, deps.Database, deps.Metadata, deps.Symlinks = nil, nil, nil, nil
	if _, err := NewTeardownOrchestrator(deps); err != nil {
		t.Errorf("Expected optional deps to be optional, got %v", err)
	}
}

func TestCleanup_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.orchestrator().Cleanup(context.Background(), issueRequest(99), fullCleanup())
	if _, ok := core.IsWorktreeNotFound(err); !ok {
		t.Fatalf("Expected WorktreeNotFoundError, got %v", err)
	}
	if len(f.log.mutating()) != 0 {
		t.Errorf("Expected no mutating calls, got %v", f.log.mutating())
	}
}

func TestCleanup_RefusesMainWorktreeEvenWithForce(t *testing.T) {
	f := newFixture(t)
	request, _ := models.ParseIdentifier("main")

	_, err := f.orchestrator().Cleanup(context.Background(), request, models.CleanupOptions{Force: true, DeleteBranch: true})
	if _, ok := core.IsMainWorktreeErr(err); !ok {
		t.Fatalf("Expected MainWorktreeError, got %v", err)
	}
	if len(f.log.mutating()) != 0 {
		t.Errorf("Expected no mutating calls, got %v", f.log.mutating())
	}
}

func TestCleanup_UncommittedChangesBlockBeforeRemoval(t *testing.T) {
	f := newFixture(t)
	f.git.dirty = true

	_, err := f.orchestrator().Cleanup(context.Background(), issueRequest(12), fullCleanup())
	blocked, ok := core.IsSafetyBlocked(err)
	if !ok {
		t.Fatalf("Expected SafetyBlockedError, got %v", err)
	}
	if !strings.Contains(strings.Join(blocked.Blockers, "\n"), "uncommitted changes") {
		t.Errorf("Unexpected blockers: %v", blocked.Blockers)
	}
	if len(f.log.mutating()) != 0 {
		t.Errorf("Expected no mutating calls, got %v", f.log.mutating())
	}
	if f.log.has("processes.Detect") {
		t.Error("Expected the dev server step not to run when the gate blocks")
	}
}

func TestCleanup_ForceSkipsSafetyGate(t *testing.T) {
	f := newFixture(t)
	f.git.dirty = true

	result, err := f.orchestrator().Cleanup(context.Background(), issueRequest(12), models.CleanupOptions{Force: true, DeleteBranch: true})
	if err != nil {
		t.Fatalf("Expected force to bypass the gate, got %v", err)
	}
	if f.log.has("git.HasUncommittedChanges") {
		t.Error("Expected no safety probes with force")
	}
	if !f.log.has("locator.Remove(" + f.loomPath + ",force=true)") {
		t.Errorf("Expected a forced worktree removal, got %v", f.log.all())
	}
	if !result.Success() {
		t.Errorf("Expected success, got errors %v", result.Errors())
	}
}

func TestCleanup_ProtectedBranchRefusedBeforeMutation(t *testing.T) {
	f := newFixture(t)
	f.locator.worktrees = append(f.locator.worktrees, models.WorkingTree{Path: f.loomPath + "-develop", Branch: "develop"})
	request, _ := models.ParseIdentifier("develop")

	_, err := f.orchestrator().Cleanup(context.Background(), request, models.CleanupOptions{Force: true, DeleteBranch: true})
	if _, ok := core.IsProtectedBranch(err); !ok {
		t.Fatalf("Expected ProtectedBranchError, got %v", err)
	}
	if len(f.log.mutating()) != 0 {
		t.Errorf("Expected no mutating calls, got %v", f.log.mutating())
	}
}

func TestCleanup_MergeTargetResolvedBeforeRemoval(t *testing.T) {
	f := newFixture(t)

	if _, err := f.orchestrator().Cleanup(context.Background(), issueRequest(12), fullCleanup()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	resolved := f.log.index("settings.MergeTargetBranch(" + f.loomPath + ")")
	removed := f.log.index("locator.Remove")
	deleted := f.log.index("git.DeleteBranch")
	if resolved < 0 || removed < 0 || deleted < 0 {
		t.Fatalf("Expected all three calls, got %v", f.log.all())
	}
	if resolved >= removed || removed >= deleted {
		t.Errorf("Expected merge target, then removal, then branch deletion; got %v", f.log.all())
	}
}

func TestCleanup_FullRunRecordsEveryStep(t *testing.T) {
	f := newFixture(t)
	f.metadata.archived = "/state/finished/01J-issue-12.md"

	result, err := f.orchestrator().Cleanup(context.Background(), issueRequest(12), fullCleanup())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("Expected success, got %v", result.Errors())
	}

	var got []models.OperationType
	for _, op := range result.Operations() {
		got = append(got, op.Type)
	}
	want := []models.OperationType{
		models.OpDevServer, models.OpWorktree, models.OpRecap, models.OpBranch,
		models.OpCLISymlinks, models.OpDatabase, models.OpMetadata,
	}
	if len(got) != len(want) {
		t.Fatalf("Expected operations %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Operation %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if op, _ := result.Find(models.OpDevServer); !strings.Contains(op.Message, "No dev server running on port 3012") {
		t.Errorf("Unexpected dev server message: %s", op.Message)
	}
	if op, _ := result.Find(models.OpBranch); op.Message != "Deleted branch issue-12" {
		t.Errorf("Unexpected branch message: %s", op.Message)
	}
	// main is checked out in the main worktree, so git judges the merge from there
	if !f.log.has("git.DeleteBranch(dir=" + f.mainPath + ",branch=issue-12,force=false)") {
		t.Errorf("Expected -d from the main worktree, got %v", f.log.all())
	}
	if result.Identifier != "12" || result.BranchName != "issue-12" {
		t.Errorf("Unexpected identity: %s / %s", result.Identifier, result.BranchName)
	}
	if _, err := uuid.Parse(result.RunID); err != nil {
		t.Errorf("Expected a run id, got %q: %v", result.RunID, err)
	}
}

func TestCleanup_DryRunTouchesNothing(t *testing.T) {
	f := newFixture(t)
	f.processes.info = &models.ProcessInfo{PID: 4242, Name: "node", Port: 3012, IsDevServer: true}

	options := fullCleanup()
	options.DryRun = true
	result, err := f.orchestrator().Cleanup(context.Background(), issueRequest(12), options)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(f.log.mutating()) != 0 {
		t.Errorf("Expected no mutating calls in dry-run, got %v", f.log.mutating())
	}
	if !result.DryRun {
		t.Error("Expected the result to be marked as dry-run")
	}
	for _, op := range []models.OperationType{models.OpDevServer, models.OpWorktree, models.OpBranch, models.OpDatabase} {
		found, ok := result.Find(op)
		if !ok {
			t.Errorf("Expected a %s operation", op)
			continue
		}
		if !strings.HasPrefix(found.Message, "[DRY RUN] Would ") {
			t.Errorf("Expected %s to be a dry-run message, got %q", op, found.Message)
		}
	}
}

func TestCleanup_TerminatesDevServer(t *testing.T) {
	f := newFixture(t)
	f.processes.info = &models.ProcessInfo{PID: 4242, Name: "node", Port: 3012, IsDevServer: true}

	result, err := f.orchestrator().Cleanup(context.Background(), issueRequest(12), fullCleanup())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if f.log.index("processes.Terminate(4242)") > f.log.index("locator.Remove") {
		t.Error("Expected the dev server to stop before the worktree is removed")
	}
	op, _ := result.Find(models.OpDevServer)
	if !op.Success || !strings.Contains(op.Message, "Terminated dev server node") {
		t.Errorf("Unexpected dev server op: %+v", op)
	}
}

func TestCleanup_LeavesNonDevServerRunning(t *testing.T) {
	f := newFixture(t)
	f.processes.info = &models.ProcessInfo{PID: 99, Name: "postgres", Port: 3012}

	result, err := f.orchestrator().Cleanup(context.Background(), issueRequest(12), fullCleanup())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if f.log.has("processes.Terminate") {
		t.Error("Expected a non dev server process to be left alone")
	}
	if op, _ := result.Find(models.OpDevServer); !op.Success {
		t.Errorf("Expected success, got %+v", op)
	}
}

func TestCleanup_DevServerProbeFailures(t *testing.T) {
	tests := []struct {
		name         string
		detectErr    error
		terminateErr error
		wantSuccess  bool
		wantMessage  string
	}{
		{
			name:        "no way to inspect ports",
			detectErr:   errors.Join(core.ErrPortInspectionUnavailable, errors.New("lsof not found")),
			wantSuccess: true,
			wantMessage: "Could not check port 3012",
		},
		{
			name:        "inspection fails",
			detectErr:   errors.New("permission denied reading socket table"),
			wantMessage: "Failed to check port 3012",
		},
		{
			name:         "signal refused",
			terminateErr: errors.New("failed to signal process 4242: operation not permitted"),
			wantMessage:  "Failed to terminate dev server node",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.processes.detectErr = tt.detectErr
			f.processes.terminateErr = tt.terminateErr
			if tt.detectErr == nil {
				f.processes.info = &models.ProcessInfo{PID: 4242, Name: "node", Port: 3012, IsDevServer: true}
			}

			result, err := f.orchestrator().Cleanup(context.Background(), issueRequest(12), fullCleanup())
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			op, _ := result.Find(models.OpDevServer)
			if op.Success != tt.wantSuccess || !strings.Contains(op.Message, tt.wantMessage) {
				t.Errorf("Unexpected dev server op: %+v", op)
			}
			if result.Success() != tt.wantSuccess {
				t.Errorf("Expected Success()=%v, errors: %v", tt.wantSuccess, result.Errors())
			}
			if !f.log.has("locator.Remove") {
				t.Error("Expected the worktree to be removed after the dev server step")
			}
		})
	}
}

func TestCleanup_BranchNamesSkipDevServer(t *testing.T) {
	f := newFixture(t)
	request := models.CleanupRequest{Kind: models.IdentifierBranch, BranchName: "issue-12", OriginalInput: "issue-12"}

	result, err := f.orchestrator().Cleanup(context.Background(), request, fullCleanup())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, ok := result.Find(models.OpDevServer); ok {
		t.Error("Expected no dev server step for a branch name")
	}
	if f.log.has("processes.Detect") {
		t.Error("Expected no port probe for a branch name")
	}
}

func TestCleanup_DatabaseOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		configure   func(*fixture, *TeardownDeps, *models.CleanupOptions)
		wantSuccess bool
		wantMessage string
		wantCalled  bool
	}{
		{
			name:        "not configured",
			configure:   func(f *fixture, d *TeardownDeps, o *models.CleanupOptions) { d.Database = nil },
			wantSuccess: true,
			wantMessage: "Database cleanup not configured, skipping",
		},
		{
			name:        "keep database",
			configure:   func(f *fixture, d *TeardownDeps, o *models.CleanupOptions) { o.KeepDatabase = true },
			wantSuccess: true,
			wantMessage: "Keeping database branch",
		},
		{
			name:        "nothing provisioned",
			configure:   func(f *fixture, d *TeardownDeps, o *models.CleanupOptions) { f.database.shouldCleanup = false },
			wantSuccess: true,
			wantMessage: "No database branch provisioned for this loom",
		},
		{
			name:        "deleted",
			configure:   func(f *fixture, d *TeardownDeps, o *models.CleanupOptions) {},
			wantSuccess: true,
			wantMessage: "Deleted neon database branch issue-12",
			wantCalled:  true,
		},
		{
			name: "declined",
			configure: func(f *fixture, d *TeardownDeps, o *models.CleanupOptions) {
				f.database.outcome = models.DatabaseUserDeclined
			},
			wantSuccess: true,
			wantMessage: "Kept database branch issue-12 at user request",
			wantCalled:  true,
		},
		{
			name: "failed",
			configure: func(f *fixture, d *TeardownDeps, o *models.CleanupOptions) {
				f.database.outcome = models.DatabaseFailed
			},
			wantSuccess: false,
			wantMessage: "Failed to delete database branch issue-12",
			wantCalled:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			deps := f.deps()
			options := fullCleanup()
			tt.configure(f, &deps, &options)

			orchestrator, err := NewTeardownOrchestrator(deps)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			result, err := orchestrator.Cleanup(context.Background(), issueRequest(12), options)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			op, ok := result.Find(models.OpDatabase)
			if !ok {
				t.Fatal("Expected a database operation")
			}
			if op.Success != tt.wantSuccess {
				t.Errorf("Expected success=%v, got %+v", tt.wantSuccess, op)
			}
			if op.Message != tt.wantMessage {
				t.Errorf("Expected message %q, got %q", tt.wantMessage, op.Message)
			}
			if result.Success() != tt.wantSuccess {
				t.Errorf("Expected overall success=%v, got %v", tt.wantSuccess, result.Success())
			}
			if f.log.has("database.DeleteBranchIfConfigured") != tt.wantCalled {
				t.Errorf("Expected delete called=%v, got %v", tt.wantCalled, f.log.all())
			}
		})
	}
}

func TestCleanup_PRDatabaseBranchIsPreview(t *testing.T) {
	f := newFixture(t)
	f.locator.worktrees = f.locator.worktrees[:1]
	f.locator.worktrees = append(f.locator.worktrees, models.WorkingTree{Path: f.loomPath, Branch: "pr-7"})
	f.git.refs["pr-7"] = true
	request, _ := models.ParseIdentifier("pr-7")

	if _, err := f.orchestrator().Cleanup(context.Background(), request, fullCleanup()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !f.log.has("database.DeleteBranchIfConfigured(pr-7,preview=true)") {
		t.Errorf("Expected a preview database delete, got %v", f.log.all())
	}
}

func TestCleanup_RecordsDatabaseBranchName(t *testing.T) {
	f := newFixture(t)
	f.locator.worktrees = append(f.locator.worktrees[:1], models.WorkingTree{Path: f.loomPath, Branch: "pr-7"})
	f.git.refs["pr-7"] = true
	f.database.outcome = models.DatabaseFailed
	request, _ := models.ParseIdentifier("pr-7")

	result, err := f.orchestrator().Cleanup(context.Background(), request, fullCleanup())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.DatabaseBranch != "preview/pr-7" {
		t.Errorf("Expected database branch preview/pr-7, got %q", result.DatabaseBranch)
	}
}

func TestCleanup_UsesRecordedMetadata(t *testing.T) {
	f := newFixture(t)
	f.database.shouldCleanup = false
	f.git.merged = true
	f.git.refs["issue-10"] = true
	f.metadata.recorded = &models.LoomMetadata{
		WorktreePath:   f.loomPath,
		BranchName:     "issue-12",
		ParentBranch:   "issue-10",
		DatabaseBranch: "issue-12-db",
	}

	result, err := f.orchestrator().Cleanup(context.Background(), issueRequest(12), fullCleanup())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if f.log.has("settings.MergeTargetBranch") {
		t.Error("Expected the recorded parent branch to be used as merge target")
	}
	if !f.log.has("git.IsMerged(issue-12,issue-10)") {
		t.Errorf("Expected the merge check against issue-10, got %v", f.log.all())
	}
	if !f.log.has("database.DeleteBranchIfConfigured(issue-12-db,preview=false)") {
		t.Errorf("Expected the recorded database branch to be deleted, got %v", f.log.all())
	}
	if result.DatabaseBranch != "issue-12-db" {
		t.Errorf("Expected database branch issue-12-db, got %q", result.DatabaseBranch)
	}
	if f.log.index("metadata.Load") > f.log.index("locator.Remove") {
		t.Error("Expected metadata to be read before the worktree is removed")
	}
}

func TestCleanup_UnreadableMetadataFallsBackToSettings(t *testing.T) {
	f := newFixture(t)
	f.metadata.loadErr = errors.New("unexpected end of JSON input")

	result, err := f.orchestrator().Cleanup(context.Background(), issueRequest(12), fullCleanup())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.Success() {
		t.Errorf("Expected success, got %v", result.Errors())
	}
	if !f.log.has("settings.MergeTargetBranch(" + f.loomPath + ")") {
		t.Errorf("Expected the merge target to come from settings, got %v", f.log.all())
	}
}

func TestCleanup_SafetyRefusalCarriesRemediation(t *testing.T) {
	tests := []struct {
		name   string
		remote models.RemoteBranchStatus
		merged bool
		want   []string
	}{
		{
			name:   "local ahead of remote",
			remote: models.RemoteBranchStatus{Exists: true, LocalAhead: true},
			want:   []string{"git push origin issue-12", "--force"},
		},
		{
			name: "no remote and unmerged",
			want: []string{"git push -u origin issue-12", "git merge issue-12", "--force"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.git.remote = tt.remote
			f.git.merged = tt.merged

			_, err := f.orchestrator().Cleanup(context.Background(), issueRequest(12), fullCleanup())
			if _, ok := core.IsSafetyBlocked(err); !ok {
				t.Fatalf("Expected SafetyBlockedError, got %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Expected error to contain %q, got:\n%s", want, err.Error())
				}
			}
			if len(f.log.mutating()) != 0 {
				t.Errorf("Expected no mutating calls, got %v", f.log.mutating())
			}
		})
	}
}

func TestCleanup_BestEffortFailuresAreWarnings(t *testing.T) {
	f := newFixture(t)
	f.metadata.archiveErr = errors.New("disk full")
	f.metadata.deleteErr = errors.New("permission denied")
	f.symlinks.err = errors.New("read-only filesystem")

	result, err := f.orchestrator().Cleanup(context.Background(), issueRequest(12), fullCleanup())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.Success() {
		t.Errorf("Expected best-effort failures not to fail the cleanup, got %v", result.Errors())
	}
	if len(result.Warnings()) != 3 {
		t.Errorf("Expected three warnings, got %v", result.Warnings())
	}
}

func TestCleanup_WorktreeFailureContinues(t *testing.T) {
	f := newFixture(t)
	f.locator.removeErr = errors.New("worktree is locked")

	result, err := f.orchestrator().Cleanup(context.Background(), issueRequest(12), fullCleanup())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Success() {
		t.Error("Expected a failed worktree removal to fail the cleanup")
	}
	if _, ok := result.Find(models.OpDatabase); !ok {
		t.Error("Expected later steps to still run")
	}
}

func TestCleanup_KeepBranch(t *testing.T) {
	f := newFixture(t)

	result, err := f.orchestrator().Cleanup(context.Background(), issueRequest(12), models.CleanupOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if f.log.has("git.DeleteBranch") {
		t.Error("Expected the branch to be kept")
	}
	if op, _ := result.Find(models.OpBranch); op.Message != "Kept branch issue-12" {
		t.Errorf("Unexpected branch message: %q", op.Message)
	}
	if f.log.has("git.RemoteStatus") || f.log.has("git.IsMerged") {
		t.Error("Expected branch checks to default off when the branch is kept")
	}
}

func TestCleanup_UnmergedBranchIsRecordedNotReturned(t *testing.T) {
	f := newFixture(t)
	f.git.remote = models.RemoteBranchStatus{Exists: true}
	f.git.ancestor = false
	f.git.deleteErrFn = func(dir, branch string, force bool) error {
		return errors.New("error: The branch 'issue-12' is not fully merged.")
	}

	result, err := f.orchestrator().Cleanup(context.Background(), issueRequest(12), fullCleanup())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	op, _ := result.Find(models.OpBranch)
	if op.Success {
		t.Fatal("Expected the branch operation to fail")
	}
	if _, ok := core.IsUnmergedBranch(op.Err); !ok {
		t.Errorf("Expected UnmergedBranchError, got %v", op.Err)
	}
}

func TestCleanup_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orchestrator().Cleanup(ctx, issueRequest(12), models.CleanupOptions{Force: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if len(f.log.mutating()) != 0 {
		t.Errorf("Expected no mutating calls, got %v", f.log.mutating())
	}
}

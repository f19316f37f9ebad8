package usecases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"loomctl/core/settings"
	"loomctl/models"
)

// callLog records collaborator calls in order across all fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

func (c *callLog) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// index returns the position of the first call with the given prefix, or -1.
func (c *callLog) index(prefix string) int {
	for i, call := range c.all() {
		if strings.HasPrefix(call, prefix) {
			return i
		}
	}
	return -1
}

func (c *callLog) has(prefix string) bool {
	return c.index(prefix) >= 0
}

// mutatingPrefixes are calls that change state on disk, in git or elsewhere.
var mutatingPrefixes = []string{
	"locator.Remove", "git.DeleteBranch", "processes.Terminate",
	"database.DeleteBranchIfConfigured", "metadata.Archive", "metadata.Delete",
	"symlinks.RemoveForIdentifier(dryRun=false)",
}

func (c *callLog) mutating() []string {
	var out []string
	for _, call := range c.all() {
		for _, prefix := range mutatingPrefixes {
			if strings.HasPrefix(call, prefix) {
				out = append(out, call)
			}
		}
	}
	return out
}

type fakeGit struct {
	log *callLog

	dirty       bool
	dirtyErr    error
	remote      models.RemoteBranchStatus
	merged      bool
	mergedErr   error
	refs        map[string]bool
	ancestor    bool
	deleteErrFn func(dir, branch string, force bool) error

	probeDirs []string
}

func newFakeGit(log *callLog) *fakeGit {
	return &fakeGit{log: log, refs: map[string]bool{}}
}

func (g *fakeGit) HasUncommittedChanges(dir string) (bool, error) {
	g.log.add("git.HasUncommittedChanges(%s)", dir)
	return g.dirty, g.dirtyErr
}

func (g *fakeGit) RemoteStatus(ctx context.Context, dir, branch string) models.RemoteBranchStatus {
	g.log.add("git.RemoteStatus(%s)", branch)
	g.probeDirs = append(g.probeDirs, dir)
	return g.remote
}

func (g *fakeGit) IsMerged(dir, branch, target string) (bool, error) {
	g.log.add("git.IsMerged(%s,%s)", branch, target)
	g.probeDirs = append(g.probeDirs, dir)
	return g.merged, g.mergedErr
}

func (g *fakeGit) RefExists(dir, branch string) (models.RefStatus, error) {
	g.log.add("git.RefExists(%s)", branch)
	if g.refs[branch] {
		return models.RefExists, nil
	}
	return models.RefAbsent, nil
}

func (g *fakeGit) DeleteBranch(dir, branch string, force bool) error {
	g.log.add("git.DeleteBranch(dir=%s,branch=%s,force=%v)", dir, branch, force)
	if g.deleteErrFn != nil {
		if err := g.deleteErrFn(dir, branch, force); err != nil {
			return err
		}
	}
	delete(g.refs, branch)
	return nil
}

func (g *fakeGit) IsAncestor(dir, ancestor, descendant string) (bool, error) {
	g.log.add("git.IsAncestor(%s,%s)", ancestor, descendant)
	return g.ancestor, nil
}

type fakeLocator struct {
	log       *callLog
	mainPath  string
	worktrees []models.WorkingTree
	removeErr error
}

func (l *fakeLocator) find(match func(models.WorkingTree) bool) *models.WorkingTree {
	for _, wt := range l.worktrees {
		if match(wt) {
			found := wt
			return &found
		}
	}
	return nil
}

func (l *fakeLocator) FindByIssue(number int) (*models.WorkingTree, error) {
	l.log.add("locator.FindByIssue(%d)", number)
	suffix := fmt.Sprintf("issue-%d", number)
	return l.find(func(wt models.WorkingTree) bool { return wt.Branch == suffix }), nil
}

func (l *fakeLocator) FindByPR(number int, hint string) (*models.WorkingTree, error) {
	l.log.add("locator.FindByPR(%d)", number)
	suffix := fmt.Sprintf("pr-%d", number)
	return l.find(func(wt models.WorkingTree) bool { return wt.Branch == suffix || wt.Branch == hint }), nil
}

func (l *fakeLocator) FindByBranch(name string) (*models.WorkingTree, error) {
	l.log.add("locator.FindByBranch(%s)", name)
	return l.find(func(wt models.WorkingTree) bool { return wt.Branch == name }), nil
}

func (l *fakeLocator) IsMainWorktree(tree models.WorkingTree) bool {
	return tree.Path == l.mainPath
}

func (l *fakeLocator) MainWorktreePath() (string, error) {
	return l.mainPath, nil
}

func (l *fakeLocator) Remove(path string, force bool) error {
	l.log.add("locator.Remove(%s,force=%v)", path, force)
	if l.removeErr != nil {
		return l.removeErr
	}
	var kept []models.WorkingTree
	for _, wt := range l.worktrees {
		if wt.Path != path {
			kept = append(kept, wt)
		}
	}
	l.worktrees = kept
	return nil
}

type fakeSettings struct {
	log         *callLog
	mainBranch  string
	protected   []string
	mergeTarget string
}

func (s *fakeSettings) MainBranch(cwd string) (string, error) {
	return s.mainBranch, nil
}

func (s *fakeSettings) ProtectedBranches(cwd string) ([]string, error) {
	return settings.ProtectedSet(s.mainBranch, s.protected), nil
}

func (s *fakeSettings) MergeTargetBranch(worktreePath string) (string, error) {
	s.log.add("settings.MergeTargetBranch(%s)", worktreePath)
	return s.mergeTarget, nil
}

type fakeProcesses struct {
	log          *callLog
	info         *models.ProcessInfo
	detectErr    error
	terminateErr error
}

func (p *fakeProcesses) PortFor(number int) int { return 3000 + number }

func (p *fakeProcesses) Detect(port int) (*models.ProcessInfo, error) {
	p.log.add("processes.Detect(%d)", port)
	return p.info, p.detectErr
}

func (p *fakeProcesses) Terminate(pid int) (bool, error) {
	p.log.add("processes.Terminate(%d)", pid)
	if p.terminateErr != nil {
		return false, p.terminateErr
	}
	return true, nil
}

func (p *fakeProcesses) VerifyPortFree(port int) bool { return true }

type fakeDatabase struct {
	log           *callLog
	shouldCleanup bool
	outcome       models.DatabaseOutcome
}

func (d *fakeDatabase) ShouldCleanup(envFile string) bool {
	d.log.add("database.ShouldCleanup(%s)", envFile)
	return d.shouldCleanup
}

func (d *fakeDatabase) DeleteBranchIfConfigured(branch string, shouldCleanup, isPreview bool, cwd string) models.DatabaseDeleteResult {
	d.log.add("database.DeleteBranchIfConfigured(%s,preview=%v)", branch, isPreview)
	name := branch
	if isPreview {
		name = "preview/" + branch
	}
	result := models.DatabaseDeleteResult{Outcome: d.outcome, BranchName: name, ProviderName: "neon"}
	if d.outcome == models.DatabaseFailed {
		result.Error = "neonctl exploded"
	}
	return result
}

type fakeMetadata struct {
	log        *callLog
	recorded   *models.LoomMetadata
	loadErr    error
	archived   string
	archiveErr error
	deleteErr  error
}

func (m *fakeMetadata) Load(path string) (*models.LoomMetadata, error) {
	m.log.add("metadata.Load(%s)", path)
	return m.recorded, m.loadErr
}

func (m *fakeMetadata) Archive(path string) (string, error) {
	m.log.add("metadata.Archive(%s)", path)
	return m.archived, m.archiveErr
}

func (m *fakeMetadata) Delete(path string) error {
	m.log.add("metadata.Delete(%s)", path)
	return m.deleteErr
}

type fakeSymlinks struct {
	log *callLog
	err error
}

func (s *fakeSymlinks) RemoveForIdentifier(identifier, worktreePath string, dryRun bool) ([]string, error) {
	s.log.add("symlinks.RemoveForIdentifier(dryRun=%v,%s)", dryRun, identifier)
	if s.err != nil {
		return nil, s.err
	}
	return []string{"/bin/app-" + identifier}, nil
}

// fixture wires an orchestrator over fakes for a single loom on branch issue-12.
// Paths are real directories so the classifier sees an existing worktree.
type fixture struct {
	mainPath  string
	loomPath  string
	log       *callLog
	git       *fakeGit
	locator   *fakeLocator
	settings  *fakeSettings
	processes *fakeProcesses
	database  *fakeDatabase
	metadata  *fakeMetadata
	symlinks  *fakeSymlinks
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	fixtureMain := filepath.Join(root, "repo")
	fixtureLoom := filepath.Join(root, "repo-looms", "issue-12")
	for _, dir := range []string{fixtureMain, fixtureLoom} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	log := &callLog{}
	git := newFakeGit(log)
	git.refs["issue-12"] = true
	git.refs["main"] = true
	git.merged = true

	return &fixture{
		mainPath: fixtureMain,
		loomPath: fixtureLoom,
		log:      log,
		git:      git,
		locator: &fakeLocator{
			log:      log,
			mainPath: fixtureMain,
			worktrees: []models.WorkingTree{
				{Path: fixtureMain, Branch: "main"},
				{Path: fixtureLoom, Branch: "issue-12"},
			},
		},
		settings:  &fakeSettings{log: log, mainBranch: "main", protected: []string{"develop"}, mergeTarget: "main"},
		processes: &fakeProcesses{log: log},
		database:  &fakeDatabase{log: log, shouldCleanup: true, outcome: models.DatabaseDeleted},
		metadata:  &fakeMetadata{log: log},
		symlinks:  &fakeSymlinks{log: log},
	}
}

func (f *fixture) deps() TeardownDeps {
	return TeardownDeps{
		Locator:   f.locator,
		Safety:    NewSafetyClassifier(f.git, f.git, f.git),
		Branches:  NewBranchDeletionStrategy(f.git, f.locator, f.settings),
		Settings:  f.settings,
		Processes: f.processes,
		Database:  f.database,
		Metadata:  f.metadata,
		Symlinks:  f.symlinks,
	}
}

func (f *fixture) orchestrator() *TeardownOrchestrator {
	o, err := NewTeardownOrchestrator(f.deps())
	if err != nil {
		panic(err)
	}
	return o
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"loomctl/clients"
	"loomctl/core"
	"loomctl/core/env"
	"loomctl/core/log"
	"loomctl/core/settings"
	"loomctl/handlers"
	"loomctl/models"
	"loomctl/usecases"
	"loomctl/utils"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2

	lockTimeout    = 30 * time.Second
	lockRetryDelay = 250 * time.Millisecond
)

// exitError carries the process exit code out of a go-flags command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

type Options struct {
	Version bool `long:"version" short:"v" description:"Show version information"`
}

type CleanupCommand struct {
	DryRun        bool   `long:"dry-run" short:"n" description:"Show what would be removed without changing anything"`
	Force         bool   `long:"force" short:"f" description:"Skip the safety checks and force-delete the branch (unpushed or unmerged work will be lost)"`
	KeepBranch    bool   `long:"keep-branch" description:"Remove the worktree but keep its branch"`
	KeepDatabase  bool   `long:"keep-database" description:"Keep the loom's database branch"`
	NoCheckMerge  bool   `long:"no-check-merge" description:"Do not require the branch to be merged when it has no remote"`
	NoCheckRemote bool   `long:"no-check-remote" description:"Do not compare the branch with its remote"`
	Yes           bool   `long:"yes" short:"y" description:"Answer yes to confirmation prompts"`
	JSON          bool   `long:"json" description:"Print results as JSON"`
	Verbose       bool   `long:"verbose" description:"Log progress to stderr and to ~/.config/loomctl/logs"`
	Repo          string `long:"repo" description:"Repository to operate on (default: current directory)"`

	Args struct {
		Identifiers []string `positional-arg-name:"identifier" description:"Issue number (#12, issue-12), PR (pr-12) or branch name" required:"1"`
	} `positional-args:"yes"`
}

// parseIdentifiers rejects the whole batch if any identifier is malformed, so
// nothing runs on a typo.
func parseIdentifiers(inputs []string) ([]models.CleanupRequest, error) {
	requests := make([]models.CleanupRequest, 0, len(inputs))
	for _, input := range inputs {
		request, err := models.ParseIdentifier(input)
		if err != nil {
			return nil, fmt.Errorf("invalid identifier %q: %w", input, err)
		}
		requests = append(requests, request)
	}
	return requests, nil
}

func boolPtr(b bool) *bool {
	return &b
}

func (c *CleanupCommand) cleanupOptions() models.CleanupOptions {
	options := models.CleanupOptions{
		DryRun:       c.DryRun,
		Force:        c.Force,
		DeleteBranch: !c.KeepBranch,
		KeepDatabase: c.KeepDatabase,
	}
	if c.NoCheckMerge {
		options.CheckMergeSafety = boolPtr(false)
	}
	if c.NoCheckRemote {
		options.CheckRemoteBranch = boolPtr(false)
	}
	return options
}

// CmdRunner owns the collaborators of one loomctl invocation.
type CmdRunner struct {
	repoDir        string
	batch          *usecases.BatchRunner
	repoLock       *utils.RepoLock
	rotatingWriter *log.RotatingWriter
}

func setupLogging(envManager *env.EnvManager, configDir string, verbose bool) (*log.RotatingWriter, error) {
	if !verbose {
		return nil, nil
	}

	logDir := envManager.GetOr("LOOMCTL_LOG_DIR", filepath.Join(configDir, "logs"))
	rotatingWriter, err := log.NewRotatingWriter(log.RotatingWriterConfig{
		LogDir: logDir,
		Mirror: os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rotating log writer: %w", err)
	}

	log.SetWriterWithLevel(rotatingWriter, slog.LevelDebug)
	log.Info("📝 Logging to %s", rotatingWriter.GetCurrentLogPath())
	return rotatingWriter, nil
}

func newConfirmer(yes bool) clients.Confirmer {
	if yes {
		return handlers.AutoConfirmer{Answer: true}
	}
	return handlers.NewPromptConfirmer(os.Stdin, os.Stderr)
}

func NewCmdRunner(c *CleanupCommand) (*CmdRunner, error) {
	repoDir := c.Repo
	if repoDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		repoDir = cwd
	}
	repoDir, err := filepath.Abs(repoDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", c.Repo, err)
	}

	configDir, err := env.ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	envManager, err := env.NewEnvManager()
	if err != nil {
		return nil, fmt.Errorf("failed to create environment manager: %w", err)
	}

	rotatingWriter, err := setupLogging(envManager, configDir, c.Verbose)
	if err != nil {
		return nil, err
	}

	log.Info("📋 Starting to initialize CmdRunner for %s", repoDir)

	gitClient := clients.NewGitClient()
	commonDir, err := gitClient.CommonDir(repoDir)
	if err != nil {
		return nil, fmt.Errorf("%s is not inside a git repository: %w", repoDir, err)
	}
	repoLock, err := utils.NewRepoLock(commonDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository lock: %w", err)
	}

	projectSettings, err := settings.Load(repoDir)
	if err != nil {
		return nil, err
	}

	basePort := projectSettings.DevServer.BasePort
	if basePort <= 0 {
		basePort = envManager.GetInt("LOOMCTL_BASE_PORT", settings.DefaultBasePort)
	}

	locator := usecases.NewGitWorktreeLocator(gitClient, repoDir)
	settingsProvider := settings.NewProvider()

	deps := usecases.TeardownDeps{
		Locator:   locator,
		Safety:    usecases.NewSafetyClassifier(gitClient, gitClient, gitClient),
		Branches:  usecases.NewBranchDeletionStrategy(gitClient, locator, settingsProvider),
		Settings:  settingsProvider,
		Processes: clients.NewProcessClient(basePort),
		Metadata:  models.NewMetadataStore(filepath.Join(configDir, "looms")),
	}

	projectID := projectSettings.Database.ProjectID
	if projectID == "" {
		projectID = envManager.Get("NEON_PROJECT_ID")
	}
	if projectSettings.Database.Provider == "neon" && projectID != "" {
		deps.Database = clients.NewNeonClient(clients.NeonConfig{
			ProjectID: projectID,
			APIKey:    envManager.Get("NEON_API_KEY"),
			EnvVar:    projectSettings.Database.EnvVar,
		}, newConfirmer(c.Yes))
		log.Info("🗄️ Neon database cleanup enabled for project %s", projectID)
	}

	if binDir := envManager.Get("LOOMCTL_BIN_DIR"); binDir != "" {
		deps.Symlinks = clients.NewSymlinkCleaner(binDir)
	}

	orchestrator, err := usecases.NewTeardownOrchestrator(deps)
	if err != nil {
		return nil, err
	}

	log.Info("📋 Completed successfully - initialized CmdRunner")
	return &CmdRunner{
		repoDir:        repoDir,
		batch:          usecases.NewBatchRunner(orchestrator),
		repoLock:       repoLock,
		rotatingWriter: rotatingWriter,
	}, nil
}

func (cr *CmdRunner) Close() {
	if cr.rotatingWriter != nil {
		if err := cr.rotatingWriter.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
	}
}

func (cr *CmdRunner) Run(ctx context.Context, requests []models.CleanupRequest, options models.CleanupOptions) ([]models.BatchOutcome, error) {
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	if err := cr.repoLock.TryLock(); err != nil {
		log.Info("⏳ Waiting for another cleanup to finish (%s)", cr.repoLock.GetLockPath())
		if err := cr.repoLock.LockContext(lockCtx, lockRetryDelay); err != nil {
			return nil, err
		}
	}
	defer func() {
		if err := cr.repoLock.Unlock(); err != nil {
			log.Warn("⚠️ Failed to release repository lock: %v", err)
		}
	}()

	log.Info("🧹 Cleaning up %d loom(s) in %s", len(requests), cr.repoDir)
	return cr.batch.CleanupBatch(ctx, requests, options), nil
}

func (c *CleanupCommand) Execute(args []string) error {
	requests, err := parseIdentifiers(c.Args.Identifiers)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := NewCmdRunner(c)
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}
	defer runner.Close()

	outcomes, err := runner.Run(ctx, requests, c.cleanupOptions())
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}

	reporter := handlers.NewReporter(os.Stdout)
	if c.JSON {
		err = reporter.JSON(outcomes)
	} else {
		err = reporter.Text(outcomes)
	}
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}

	for _, outcome := range outcomes {
		if !outcome.Success() {
			return &exitError{code: exitFailure}
		}
	}
	return nil
}

func main() {
	var opts Options
	// Errors are printed below so exit codes from commands stay silent
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.SubcommandsOptional = true

	var cleanup CleanupCommand
	_, err := parser.AddCommand("cleanup",
		"Tear down looms",
		"Stops the dev server, removes the worktree, deletes the branch and the database branch of each loom, refusing when work could be lost.",
		&cleanup)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFailure)
	}

	_, err = parser.Parse()
	if opts.Version {
		fmt.Printf("%s\n", core.GetVersion())
		os.Exit(exitOK)
	}
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				fmt.Println(flagsErr.Message)
				os.Exit(exitOK)
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", flagsErr)
			os.Exit(exitUsage)
		}

		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.err)
			}
			os.Exit(exitErr.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFailure)
	}

	if parser.Active == nil {
		parser.WriteHelp(os.Stderr)
		os.Exit(exitUsage)
	}
}

package clients

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"loomctl/core/env"
	"loomctl/core/log"
	"loomctl/models"
)

const (
	neonProviderName   = "neon"
	neonCommandTimeout = 60 * time.Second
	previewPrefix      = "preview/"
)

// Confirmer asks the user a yes/no question.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

type NeonConfig struct {
	ProjectID string
	APIKey    string
	EnvVar    string // variable in a loom's .env that marks a provisioned branch
}

// NeonClient deletes per-loom Neon database branches through neonctl.
type NeonClient struct {
	config     NeonConfig
	confirmer  Confirmer
	runCommand func(ctx context.Context, dir string, environ []string, name string, args ...string) ([]byte, error)
}

func NewNeonClient(config NeonConfig, confirmer Confirmer) *NeonClient {
	if config.EnvVar == "" {
		config.EnvVar = "DATABASE_URL"
	}
	return &NeonClient{
		config:    config,
		confirmer: confirmer,
		runCommand: func(ctx context.Context, dir string, environ []string, name string, args ...string) ([]byte, error) {
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Dir = dir
			cmd.Env = environ
			return cmd.CombinedOutput()
		},
	}
}

// commandEnv passes the API key to neonctl without exporting it to our own process.
func (n *NeonClient) commandEnv() []string {
	environ := os.Environ()
	if n.config.APIKey != "" {
		environ = append(environ, "NEON_API_KEY="+n.config.APIKey)
	}
	return environ
}

// ShouldCleanup reports whether the loom's .env references a provisioned
// database. It must be read before the worktree directory is removed.
func (n *NeonClient) ShouldCleanup(envFile string) bool {
	if n.config.ProjectID == "" {
		log.Debug("ℹ️ No Neon project configured, skipping database cleanup")
		return false
	}

	vars, err := env.ReadEnvFile(envFile)
	if err != nil {
		log.Warn("⚠️ Could not read %s: %v", envFile, err)
		return false
	}

	return strings.TrimSpace(vars[n.config.EnvVar]) != ""
}

// DeleteBranchIfConfigured removes the database branch for a loom. Preview
// branches, created for pull requests, are confirmed with the user first.
func (n *NeonClient) DeleteBranchIfConfigured(branchName string, shouldCleanup, isPreview bool, cwd string) models.DatabaseDeleteResult {
	dbBranch := branchName
	if isPreview {
		dbBranch = previewPrefix + branchName
	}
	result := models.DatabaseDeleteResult{BranchName: dbBranch, ProviderName: neonProviderName}

	if !shouldCleanup {
		result.Outcome = models.DatabaseSkipped
		return result
	}

	if isPreview && n.confirmer != nil {
		ok, err := n.confirmer.Confirm(fmt.Sprintf("Delete preview database branch %s?", dbBranch))
		if err != nil {
			result.Outcome = models.DatabaseFailed
			result.Error = fmt.Sprintf("confirmation failed: %v", err)
			return result
		}
		if !ok {
			log.Info("ℹ️ User declined deletion of %s", dbBranch)
			result.Outcome = models.DatabaseUserDeclined
			return result
		}
	}

	log.Info("📋 Starting to delete database branch %s", dbBranch)

	ctx, cancel := context.WithTimeout(context.Background(), neonCommandTimeout)
	defer cancel()

	output, err := n.runCommand(ctx, cwd, n.commandEnv(), "neonctl",
		"branches", "delete", dbBranch, "--project-id", n.config.ProjectID)
	if err != nil {
		if strings.Contains(strings.ToLower(string(output)), "not found") {
			log.Info("ℹ️ Database branch %s does not exist", dbBranch)
			result.Outcome = models.DatabaseNotFound
			return result
		}
		log.Error("❌ Failed to delete database branch %s: %v\nOutput: %s", dbBranch, err, string(output))
		result.Outcome = models.DatabaseFailed
		result.Error = fmt.Sprintf("%v: %s", err, strings.TrimSpace(string(output)))
		return result
	}

	log.Info("✅ Deleted database branch %s", dbBranch)
	result.Outcome = models.DatabaseDeleted
	return result
}

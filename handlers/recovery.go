package handlers

import (
	"fmt"

	"loomctl/models"
)

// RecoveryInstructions lists the manual commands that finish a partially
// failed cleanup. It is empty when every critical step succeeded.
func RecoveryInstructions(result models.CleanupResult) []string {
	if result.DryRun || result.Success() {
		return nil
	}

	var steps []string
	for _, op := range result.Operations() {
		if op.Success || op.BestEffort() {
			continue
		}

		switch op.Type {
		case models.OpDevServer:
			if result.Port > 0 {
				steps = append(steps, fmt.Sprintf("Check for a process still listening on port %d: lsof -nP -iTCP:%d -sTCP:LISTEN", result.Port, result.Port))
			} else {
				steps = append(steps, "Stop the loom's dev server by hand")
			}
		case models.OpWorktree:
			path := result.WorktreePath
			if path == "" {
				path = "<worktree path>"
			}
			steps = append(steps,
				fmt.Sprintf("Remove the worktree directory: git worktree remove --force %s", path),
				"Then prune stale entries: git worktree prune",
			)
		case models.OpBranch:
			if result.BranchName != "" {
				steps = append(steps, fmt.Sprintf("Delete the branch once it is merged: git branch -d %s (or -D to discard it)", result.BranchName))
			}
		case models.OpDatabase:
			dbBranch := result.DatabaseBranch
			if dbBranch == "" {
				dbBranch = result.BranchName
			}
			steps = append(steps, fmt.Sprintf("Delete the database branch: neonctl branches delete %s", dbBranch))
		}
	}
	return steps
}

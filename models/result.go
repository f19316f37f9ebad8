package models

import (
	"encoding/json"
	"fmt"
)

// OperationType names one teardown step.
type OperationType string

const (
	OpDevServer   OperationType = "dev-server"
	OpWorktree    OperationType = "worktree"
	OpRecap       OperationType = "recap"
	OpBranch      OperationType = "branch"
	OpCLISymlinks OperationType = "cli-symlinks"
	OpDatabase    OperationType = "database"
	OpMetadata    OperationType = "metadata"
)

// IsBestEffort reports whether a failure of this step leaves the overall
// cleanup successful.
func (t OperationType) IsBestEffort() bool {
	switch t {
	case OpRecap, OpCLISymlinks, OpMetadata:
		return true
	}
	return false
}

// OperationResult records the outcome of a single step.
type OperationResult struct {
	Type    OperationType
	Success bool
	Message string
	Err     error
}

func (o OperationResult) BestEffort() bool {
	return o.Type.IsBestEffort()
}

func Succeeded(t OperationType, message string) OperationResult {
	return OperationResult{Type: t, Success: true, Message: message}
}

func Failed(t OperationType, message string, err error) OperationResult {
	return OperationResult{Type: t, Success: false, Message: message, Err: err}
}

// CleanupResult is an append-only log of operations. Success and Errors are
// derived from the log on every call.
type CleanupResult struct {
	RunID          string // correlates the result with the verbose log
	Identifier     string
	BranchName     string
	WorktreePath   string
	Port           int    // dev server port, 0 when the identifier is not numeric
	DatabaseBranch string // provider branch name, set once the database step ran
	DryRun         bool
	operations     []OperationResult
}

func NewCleanupResult(identifier, branchName string, dryRun bool) CleanupResult {
	return CleanupResult{Identifier: identifier, BranchName: branchName, DryRun: dryRun}
}

// With returns a copy of the result with op appended.
func (r CleanupResult) With(op OperationResult) CleanupResult {
	ops := make([]OperationResult, len(r.operations), len(r.operations)+1)
	copy(ops, r.operations)
	r.operations = append(ops, op)
	return r
}

// Operations returns a copy of the recorded steps in order.
func (r CleanupResult) Operations() []OperationResult {
	ops := make([]OperationResult, len(r.operations))
	copy(ops, r.operations)
	return ops
}

// Errors collects the errors of failed critical steps.
func (r CleanupResult) Errors() []error {
	var errs []error
	for _, op := range r.operations {
		if op.Success || op.BestEffort() {
			continue
		}
		if op.Err != nil {
			errs = append(errs, op.Err)
		} else {
			errs = append(errs, fmt.Errorf("%s: %s", op.Type, op.Message))
		}
	}
	return errs
}

// Warnings lists messages of failed best-effort steps.
func (r CleanupResult) Warnings() []string {
	var warnings []string
	for _, op := range r.operations {
		if !op.Success && op.BestEffort() {
			warnings = append(warnings, op.Message)
		}
	}
	return warnings
}

// Success is true when no critical step failed.
func (r CleanupResult) Success() bool {
	return len(r.Errors()) == 0
}

// Find returns the first operation of the given type.
func (r CleanupResult) Find(t OperationType) (OperationResult, bool) {
	for _, op := range r.operations {
		if op.Type == t {
			return op, true
		}
	}
	return OperationResult{}, false
}

type operationJSON struct {
	Type       OperationType `json:"type"`
	Success    bool          `json:"success"`
	Message    string        `json:"message"`
	Error      string        `json:"error,omitempty"`
	BestEffort bool          `json:"best_effort"`
}

type cleanupResultJSON struct {
	RunID          string          `json:"run_id,omitempty"`
	Identifier     string          `json:"identifier"`
	BranchName     string          `json:"branch_name"`
	WorktreePath   string          `json:"worktree_path,omitempty"`
	Port           int             `json:"port,omitempty"`
	DatabaseBranch string          `json:"database_branch,omitempty"`
	DryRun         bool            `json:"dry_run"`
	Success        bool            `json:"success"`
	Operations     []operationJSON `json:"operations"`
	Errors         []string        `json:"errors"`
}

func (r CleanupResult) MarshalJSON() ([]byte, error) {
	out := cleanupResultJSON{
		RunID:          r.RunID,
		Identifier:     r.Identifier,
		BranchName:     r.BranchName,
		WorktreePath:   r.WorktreePath,
		Port:           r.Port,
		DatabaseBranch: r.DatabaseBranch,
		DryRun:         r.DryRun,
		Success:        r.Success(),
		Operations:     make([]operationJSON, 0, len(r.operations)),
		Errors:         []string{},
	}
	for _, op := range r.operations {
		entry := operationJSON{
			Type:       op.Type,
			Success:    op.Success,
			Message:    op.Message,
			BestEffort: op.BestEffort(),
		}
		if op.Err != nil {
			entry.Error = op.Err.Error()
		}
		out.Operations = append(out.Operations, entry)
	}
	for _, err := range r.Errors() {
		out.Errors = append(out.Errors, err.Error())
	}
	return json.Marshal(out)
}

// BatchOutcome pairs one identifier of a batch with its result or gate error.
type BatchOutcome struct {
	Input  string
	Result CleanupResult
	Err    error
}

func (o BatchOutcome) Success() bool {
	return o.Err == nil && o.Result.Success()
}

func (o BatchOutcome) MarshalJSON() ([]byte, error) {
	out := struct {
		Input  string        `json:"input"`
		Result CleanupResult `json:"result"`
		Error  string        `json:"error,omitempty"`
	}{Input: o.Input, Result: o.Result}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return json.Marshal(out)
}

package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"loomctl/core/log"
	"loomctl/utils"
)

// LoomMetadata is recorded when a loom is created. Cleanup reads it for the
// parent branch and the database branch the loom was provisioned with.
type LoomMetadata struct {
	WorktreePath   string    `json:"worktree_path"`
	BranchName     string    `json:"branch_name"`
	IssueNumber    int       `json:"issue_number,omitempty"`
	PRNumber       int       `json:"pr_number,omitempty"`
	ParentBranch   string    `json:"parent_branch,omitempty"`
	DatabaseBranch string    `json:"database_branch,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MetadataStore keeps one JSON file per loom and one markdown recap per loom,
// keyed by the sanitised worktree path:
//
//	<root>/<key>.json
//	<root>/recaps/<key>.md
//	<root>/finished/<ulid>-<key>.md   (archived recaps)
type MetadataStore struct {
	root  string
	mutex sync.Mutex
}

func NewMetadataStore(root string) *MetadataStore {
	return &MetadataStore{root: root}
}

func (s *MetadataStore) metadataPath(worktreePath string) string {
	return filepath.Join(s.root, utils.SanitizeKey(worktreePath)+".json")
}

func (s *MetadataStore) recapPath(worktreePath string) string {
	return filepath.Join(s.root, "recaps", utils.SanitizeKey(worktreePath)+".md")
}

// Load returns the metadata for a loom, or nil when none was recorded.
func (s *MetadataStore) Load(worktreePath string) (*LoomMetadata, error) {
	path := s.metadataPath(worktreePath)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	var meta LoomMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata from %s: %w", path, err)
	}
	return &meta, nil
}

// Delete removes the metadata for a loom. A missing file is not an error.
func (s *MetadataStore) Delete(worktreePath string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	path := s.metadataPath(worktreePath)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Error("❌ Failed to delete loom metadata %s: %v", path, err)
		return fmt.Errorf("failed to delete metadata file: %w", err)
	}

	log.Debug("✅ Deleted loom metadata for %s", worktreePath)
	return nil
}

// Archive moves the loom's recap into finished/ and returns its new path.
// It returns "" when the loom has no recap.
func (s *MetadataStore) Archive(worktreePath string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	src := s.recapPath(worktreePath)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		log.Debug("ℹ️ No recap to archive for %s", worktreePath)
		return "", nil
	}

	finishedDir := filepath.Join(s.root, "finished")
	if err := os.MkdirAll(finishedDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create finished directory: %w", err)
	}

	dst := filepath.Join(finishedDir, fmt.Sprintf("%s-%s.md", ulid.Make().String(), utils.SanitizeKey(worktreePath)))
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("failed to archive recap: %w", err)
	}

	log.Info("✅ Archived recap for %s to %s", worktreePath, dst)
	return dst, nil
}

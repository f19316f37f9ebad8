package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotatingWriter provides size-based log rotation with thread safety.
// Old files beyond MaxFiles are pruned on every rotation.
type RotatingWriter struct {
	logDir      string
	maxFileSize int64
	maxFiles    int
	filePrefix  string

	mu          sync.Mutex
	currentFile *os.File
	currentPath string
	currentSize int64
	mirror      io.Writer
	sequence    int
}

// RotatingWriterConfig holds configuration for the rotating writer
type RotatingWriterConfig struct {
	LogDir      string    // Directory where log files will be created
	MaxFileSize int64     // Maximum size per file in bytes (default: 5MB)
	MaxFiles    int       // Files kept after pruning (default: 10)
	FilePrefix  string    // Prefix for log file names (default: "loomctl")
	Mirror      io.Writer // Optional second destination, e.g. os.Stderr with --verbose
}

// NewRotatingWriter creates a new rotating writer with the specified configuration
func NewRotatingWriter(config RotatingWriterConfig) (*RotatingWriter, error) {
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = 5 * 1024 * 1024
	}
	if config.MaxFiles <= 0 {
		config.MaxFiles = 10
	}
	if config.FilePrefix == "" {
		config.FilePrefix = "loomctl"
	}

	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	rw := &RotatingWriter{
		logDir:      config.LogDir,
		maxFileSize: config.MaxFileSize,
		maxFiles:    config.MaxFiles,
		filePrefix:  config.FilePrefix,
		mirror:      config.Mirror,
	}

	if err := rw.rotateFile(); err != nil {
		return nil, fmt.Errorf("failed to create initial log file: %w", err)
	}

	return rw, nil
}

// Write implements io.Writer interface with automatic rotation
func (rw *RotatingWriter) Write(p []byte) (n int, err error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.mirror != nil {
		if _, err := rw.mirror.Write(p); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to mirror log output: %v\n", err)
		}
	}

	if rw.currentSize+int64(len(p)) > rw.maxFileSize {
		if err := rw.rotateFile(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to rotate log file: %v\n", err)
		}
	}

	if rw.currentFile != nil {
		n, err = rw.currentFile.Write(p)
		rw.currentSize += int64(n)
		return n, err
	}

	return len(p), nil
}

// rotateFile creates a new log file, closes the current one and prunes old files
func (rw *RotatingWriter) rotateFile() error {
	if rw.currentFile != nil {
		if err := rw.currentFile.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to close current log file: %v\n", err)
		}
	}

	// Sequence suffix keeps names unique when rotating twice within one second
	rw.sequence++
	timestamp := time.Now().Format("20060102-150405")
	logFileName := fmt.Sprintf("%s-%s-%03d.log", rw.filePrefix, timestamp, rw.sequence)
	newLogFilePath := filepath.Join(rw.logDir, logFileName)

	newLogFile, err := os.OpenFile(newLogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create new log file: %w", err)
	}

	rw.currentFile = newLogFile
	rw.currentPath = newLogFilePath
	rw.currentSize = 0

	rw.pruneOldFiles()
	return nil
}

// pruneOldFiles removes the oldest log files so at most maxFiles remain
func (rw *RotatingWriter) pruneOldFiles() {
	entries, err := os.ReadDir(rw.logDir)
	if err != nil {
		return
	}

	var logFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, rw.filePrefix+"-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		logFiles = append(logFiles, name)
	}

	if len(logFiles) <= rw.maxFiles {
		return
	}

	// Timestamped names sort chronologically
	sort.Strings(logFiles)
	for _, name := range logFiles[:len(logFiles)-rw.maxFiles] {
		path := filepath.Join(rw.logDir, name)
		if path == rw.currentPath {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: Failed to prune old log file %s: %v\n", path, err)
		}
	}
}

// Close closes the current log file
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.currentFile != nil {
		err := rw.currentFile.Close()
		rw.currentFile = nil
		return err
	}
	return nil
}

// GetCurrentLogPath returns the path of the current log file
func (rw *RotatingWriter) GetCurrentLogPath() string {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.currentPath
}

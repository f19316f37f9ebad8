package env

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/joho/godotenv"

	"loomctl/core/log"
)

// EnvManager resolves loomctl's environment: values from ~/.config/loomctl/.env
// take precedence, with the process environment as fallback.
type EnvManager struct {
	mu      sync.RWMutex
	envVars map[string]string
	envPath string
}

func NewEnvManager() (*EnvManager, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	return NewEnvManagerAt(filepath.Join(configDir, ".env"))
}

// NewEnvManagerAt loads variables from an explicit .env path.
func NewEnvManagerAt(envPath string) (*EnvManager, error) {
	em := &EnvManager{
		envVars: make(map[string]string),
		envPath: envPath,
	}

	if err := em.Load(); err != nil {
		log.Error("Failed to load initial environment variables: %v", err)
	}

	return em, nil
}

func getConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".config", "loomctl"), nil
}

// ConfigDir returns ~/.config/loomctl without creating it.
func ConfigDir() (string, error) {
	return getConfigDir()
}

func (em *EnvManager) Load() error {
	em.mu.Lock()
	defer em.mu.Unlock()

	envMap, err := ReadEnvFile(em.envPath)
	if err != nil {
		return err
	}

	for key := range em.envVars {
		delete(em.envVars, key)
	}
	for key, value := range envMap {
		em.envVars[key] = value
	}

	log.Debug("Loaded %d environment variables from %s", len(envMap), em.envPath)
	return nil
}

func (em *EnvManager) Get(key string) string {
	em.mu.RLock()
	defer em.mu.RUnlock()

	if value, exists := em.envVars[key]; exists {
		return value
	}

	return os.Getenv(key)
}

// GetOr returns the value for key, or fallback when it is unset or empty.
func (em *EnvManager) GetOr(key, fallback string) string {
	if value := em.Get(key); value != "" {
		return value
	}
	return fallback
}

// GetInt parses the value for key as an integer, returning fallback when it is
// unset or malformed.
func (em *EnvManager) GetInt(key string, fallback int) int {
	value := em.Get(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Warn("⚠️ Ignoring non-numeric %s=%q, using %d", key, value, fallback)
		return fallback
	}
	return parsed
}

// ReadEnvFile parses a dotenv file. A missing file yields an empty map.
func ReadEnvFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]string{}, nil
	}

	envMap, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read .env file %s: %w", path, err)
	}
	return envMap, nil
}

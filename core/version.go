package core

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionContent string

// GetVersion returns the current version of loomctl
func GetVersion() string {
	version := strings.TrimSpace(versionContent)
	if version == "" {
		return "dev"
	}
	return version
}

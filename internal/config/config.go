package config

import (
	"os"
	"path/filepath"
)

// ServerConfig holds configuration for the LightCI server.
type ServerConfig struct {
	Addr          string // Listen address (default ":8080")
	LogLevel      string // Log level: debug, info, warn, error
	LogFormat     string // Log format: text, json
	DBPath        string // SQLite database path (":memory:" for testing)
	WorkspaceRoot string // Root directory for per-build workspaces
	ArtifactRoot  string // Root directory for stored artifacts
	Executor      string // Step executor: "local" or "docker"
	DockerImage   string // Image for the docker executor
	ArtifactKeep  int    // Artifact versions kept per id; 0 disables retention
}

// DefaultServerConfig returns sensible defaults rooted under ~/.lightci.
func DefaultServerConfig() ServerConfig {
	root := DataDir()
	return ServerConfig{
		Addr:          ":8080",
		LogLevel:      "info",
		LogFormat:     "text",
		DBPath:        filepath.Join(root, "lightci.db"),
		WorkspaceRoot: filepath.Join(root, "workspaces"),
		ArtifactRoot:  filepath.Join(root, "artifacts"),
		Executor:      "local",
	}
}

// DataDir returns the LightCI data directory (~/.lightci, or .lightci under
// the current directory when the home directory cannot be resolved).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lightci"
	}
	return filepath.Join(home, ".lightci")
}

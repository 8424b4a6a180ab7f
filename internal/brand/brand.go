// Package brand provides centralized branding constants for zedctl.
// Keeping identity in one place makes it easy to fork or rename the product.
package brand

import (
	"os"
	"path/filepath"
)

const (
	Name            = "Zedctl"
	LowerName       = "zedctl"
	Description     = "Project Zomboid server administration daemon"
	ConfigEnvPrefix = "ZEDCTL"

	DefaultConfigDir = "/etc/zedctl"
	DefaultStateDir  = "/var/lib/zedctl"
	DefaultLogDir    = "/var/log/zedctl"

	BinaryName     = "zedctl"
	ServiceName    = "zedctl"
	ConfigFileName = "zedctl.hcl"
)

// Version is set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// UserAgent returns a User-Agent string for HTTP requests.
func UserAgent() string {
	return Name + "/" + Version
}

// StateDir returns the state directory, checking env vars first.
// Priority: ZEDCTL_STATE_DIR > ZEDCTL_PREFIX/state > DefaultStateDir.
func StateDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "state")
	}
	return DefaultStateDir
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, ConfigFileName)
	}
	return filepath.Join(DefaultConfigDir, ConfigFileName)
}

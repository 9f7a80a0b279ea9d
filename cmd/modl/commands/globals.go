package commands

import (
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/modlnet/modl/internal/client"
	"github.com/modlnet/modl/internal/config"
	"github.com/modlnet/modl/internal/util"
)

// Global CLI flags
var (
	// APIEndpoint is the node API base URL
	APIEndpoint string

	// AdminToken authenticates the /v1/admin routes
	AdminToken string

	// OutputFormat controls output format: "" (styled) or "json"
	OutputFormat string

	// ConfigPath is the node configuration file
	ConfigPath string
)

// jsonOutput reports whether --output json was requested.
func jsonOutput() bool {
	return OutputFormat == "json"
}

// GetAPIEndpoint returns the API endpoint from flag, config, or default.
func GetAPIEndpoint() string {
	if APIEndpoint != "" {
		return APIEndpoint
	}
	if cfg := loadConfigQuiet(); cfg != nil && cfg.API.Listen != "" {
		return "http://" + cfg.API.Listen
	}
	return client.DefaultBaseURL
}

// GetAdminToken returns the admin token from flag, environment or config.
func GetAdminToken() string {
	if AdminToken != "" {
		return AdminToken
	}
	if v := os.Getenv("MODL_ADMIN_TOKEN"); v != "" {
		return v
	}
	if cfg := loadConfigQuiet(); cfg != nil {
		return cfg.API.AdminToken
	}
	return ""
}

// GetClient builds an API client from the global flags.
func GetClient(opts ...client.Option) *client.Client {
	base := []client.Option{
		client.WithAdminToken(GetAdminToken()),
		client.WithRetry(&util.RetryConfig{
			MaxRetries: 2,
			BaseDelay:  200 * time.Millisecond,
			MaxDelay:   2 * time.Second,
			Multiplier: 2,
		}),
	}
	return client.New(GetAPIEndpoint(), append(base, opts...)...)
}

// GetConfigPath returns the config path from flag or default.
func GetConfigPath() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	return config.DefaultConfigPath()
}

// GetKeystoreDir returns the keystore directory next to the config.
func GetKeystoreDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".modl", "keystore")
}

// loadConfigQuiet loads the config, returning nil on error.
func loadConfigQuiet() *config.Config {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil
	}
	return cfg
}

// Set with -ldflags "-X github.com/modlnet/modl/cmd/modl/commands.Version=...".
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Modified  bool   `json:"modified,omitempty"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// GetBuildInfo merges the linker-set variables with the module and VCS
// stamps the Go toolchain embeds. Linker values win.
func GetBuildInfo() BuildInfo {
	bi := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return bi.withDefaults()
	}
	if bi.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		bi.Version = info.Main.Version
	}
	for _, kv := range info.Settings {
		switch kv.Key {
		case "vcs.revision":
			if bi.Commit == "" {
				bi.Commit = kv.Value[:min(len(kv.Value), 8)]
			}
		case "vcs.time":
			if bi.BuildDate == "" {
				bi.BuildDate = kv.Value
			}
		case "vcs.modified":
			bi.Modified = kv.Value == "true"
		}
	}
	return bi.withDefaults()
}

func (bi BuildInfo) withDefaults() BuildInfo {
	if bi.Commit == "" {
		bi.Commit = "unknown"
	}
	if bi.BuildDate == "" {
		bi.BuildDate = "unknown"
	}
	return bi
}

// GetVersion returns the release version, or "dev".
func GetVersion() string { return GetBuildInfo().Version }

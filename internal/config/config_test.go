package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/paymaster"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Hub.GasOverhead != 50000 || cfg.Hub.PostOverhead != 50000 {
		t.Errorf("unexpected hub overheads %d/%d", cfg.Hub.GasOverhead, cfg.Hub.PostOverhead)
	}
	if len(cfg.Tier.Levels) != 3 {
		t.Errorf("expected 3 default tier levels, got %d", len(cfg.Tier.Levels))
	}
	if cfg.Paymaster.Policy != "revert" {
		t.Errorf("expected revert policy, got %s", cfg.Paymaster.Policy)
	}
	if cfg.Genesis.ChainID != 1337 {
		t.Errorf("expected chain id 1337, got %d", cfg.Genesis.ChainID)
	}
}

func TestDerivedParams(t *testing.T) {
	cfg := DefaultConfig()

	th, err := cfg.TierThresholds()
	if err != nil {
		t.Fatalf("TierThresholds: %v", err)
	}
	if th[0].Sign() != 0 || th[1].String() != "100000000000000000000" {
		t.Errorf("unexpected thresholds %v", th)
	}

	pm, err := cfg.PaymasterParams()
	if err != nil {
		t.Fatalf("PaymasterParams: %v", err)
	}
	if pm.TierDiscountBps[2] != 1500 {
		t.Errorf("expected gold discount 1500, got %d", pm.TierDiscountBps[2])
	}
	if pm.Policy != paymaster.PolicyRevert {
		t.Errorf("expected revert policy, got %s", pm.Policy)
	}

	ap, err := cfg.AuditParams()
	if err != nil {
		t.Fatalf("AuditParams: %v", err)
	}
	if ap.TierMultiplierBps[2] != 12500 {
		t.Errorf("expected gold multiplier 12500, got %d", ap.TierMultiplierBps[2])
	}

	dp, err := cfg.DeployParams()
	if err != nil {
		t.Fatalf("DeployParams: %v", err)
	}
	if dp.MinTier != 1 || dp.DeployFee.String() != "5000000000000000000" {
		t.Errorf("unexpected deploy params %+v", dp)
	}

	hub, err := cfg.HubParams()
	if err != nil {
		t.Fatalf("HubParams: %v", err)
	}
	if hub.MaxWorkerCount != 10 {
		t.Errorf("expected 10 workers, got %d", hub.MaxWorkerCount)
	}

	min, err := cfg.HubMinimumStake()
	if err != nil {
		t.Fatalf("HubMinimumStake: %v", err)
	}
	if min.String() != "1000000000000000000" {
		t.Errorf("expected 1 modl minimum stake, got %s", min)
	}
	if cfg.PaymasterHubDeposit().String() != "500000000000000000" {
		t.Errorf("unexpected hub deposit %s", cfg.PaymasterHubDeposit())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid default", func(c *Config) {}, ""},
		{"zero workers", func(c *Config) { c.Hub.MaxWorkerCount = 0 }, "hub"},
		{"dev fee without address", func(c *Config) { c.Hub.DevFee = 10 }, "hub"},
		{"bad deposit", func(c *Config) { c.Hub.MaximumRecipientDeposit = "lots" }, "maximum_recipient_deposit"},
		{"zero minimum stake", func(c *Config) { c.Hub.MinimumStake = "0" }, "minimum_stake"},
		{"penalty share too high", func(c *Config) { c.Stake.PenaltyShareBps = 10001 }, "penalty_share_bps"},
		{"zero delay", func(c *Config) { c.Stake.MaxUnstakeDelay = 0 }, "delays"},
		{"non-increasing tiers", func(c *Config) { c.Tier.Levels[2].MinStakeString = "1" }, "tier"},
		{"out of order tiers", func(c *Config) { c.Tier.Levels[1].Level = 5 }, "in order"},
		{"unknown policy", func(c *Config) { c.Paymaster.Policy = "maybe" }, "policy"},
		{"rate above max", func(c *Config) { c.Paymaster.GasToModlRate = "10"; c.Paymaster.MaxGasToModlRate = "5" }, "paymaster"},
		{"min tier missing", func(c *Config) { c.Paymaster.MinRequiredTier = 7 }, "min_required_tier"},
		{"discount too large", func(c *Config) { c.Tier.Levels[1].DiscountBps = 20000 }, "paymaster"},
		{"shares off", func(c *Config) { c.Fees.Shares.BurnBps = 0 }, "fees"},
		{"bad deploy fee", func(c *Config) { c.Deploy.Fee = "cheap" }, "deploy"},
		{"deploy tier missing", func(c *Config) { c.Deploy.MinTier = 9 }, "min_tier"},
		{"short treasury", func(c *Config) { c.Fees.Treasury = "0x1234" }, "fees.treasury"},
		{"zero admin", func(c *Config) { c.Genesis.Admin = common.Address{}.Hex() }, "zero address"},
		{"bad genesis time", func(c *Config) { c.Genesis.Time = "yesterday" }, "genesis.time"},
		{"bad account amount", func(c *Config) {
			c.Genesis.Accounts = []AccountConfig{{Address: "0x00000000000000000000000000000000000000c1", Native: "-1"}}
		}, "genesis.accounts[0].native"},
		{"too many workers", func(c *Config) {
			c.Hub.MaxWorkerCount = 1
			c.Genesis.RelayManager = "0x00000000000000000000000000000000000000c1"
			c.Genesis.RelayWorkers = []string{"0x00000000000000000000000000000000000000c2", "0x00000000000000000000000000000000000000c3"}
		}, "relay_workers"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"api without listen", func(c *Config) { c.API.Listen = "" }, "api.listen"},
		{"negative connections", func(c *Config) { c.API.MaxConnections = -1 }, "api.max_connections"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Paymaster.Policy = "absorb"
	cfg.Hub.MinimumUnstakeDelay = 2 * time.Hour
	cfg.Genesis.Accounts = []AccountConfig{{Address: "0x00000000000000000000000000000000000000c1", Modl: "250 modl"}}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600 permissions, got %o", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Paymaster.Policy != "absorb" {
		t.Errorf("expected absorb, got %s", loaded.Paymaster.Policy)
	}
	if loaded.Hub.MinimumUnstakeDelay != 2*time.Hour {
		t.Errorf("expected 2h, got %v", loaded.Hub.MinimumUnstakeDelay)
	}
	if got := Amount(loaded.Genesis.Accounts[0].Modl).String(); got != "250000000000000000000" {
		t.Errorf("unexpected modl amount %s", got)
	}
}

func TestPartialYAMLPreservesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "paymaster:\n  gas_to_modl_rate: \"3\"\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paymaster.GasToModlRate != "3" {
		t.Errorf("expected rate 3, got %s", cfg.Paymaster.GasToModlRate)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug, got %s", cfg.Logging.Level)
	}
	if cfg.Paymaster.AcceptanceBudget != 150000 {
		t.Errorf("expected default acceptance budget preserved, got %d", cfg.Paymaster.AcceptanceBudget)
	}
	if cfg.Hub.MaxWorkerCount != 10 {
		t.Errorf("expected default worker count preserved, got %d", cfg.Hub.MaxWorkerCount)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Listen != DefaultConfig().API.Listen {
		t.Errorf("expected default listen address, got %s", cfg.API.Listen)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("hub: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("paymaster:\n  policy: sometimes\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/x/config.yaml"); got != filepath.Join(home, "x", "config.yaml") {
		t.Errorf("unexpected expansion %s", got)
	}
	if got := expandPath("/abs/config.yaml"); got != "/abs/config.yaml" {
		t.Errorf("absolute path changed: %s", got)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	if !strings.HasSuffix(DefaultConfigPath(), filepath.Join(".modl", "config.yaml")) {
		t.Errorf("unexpected default path %s", DefaultConfigPath())
	}
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := DefaultConfig().Save(path); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan *Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) {
			select {
			case reloaded <- c:
			default:
			}
		})
	}()

	cfg := DefaultConfig()
	cfg.Logging.Level = "warn"

	var got *Config
	deadline := time.After(5 * time.Second)
	for got == nil {
		if err := cfg.Save(path); err != nil {
			t.Fatal(err)
		}
		select {
		case c := <-reloaded:
			// a write can be observed mid-truncate and load as defaults
			if c.Logging.Level == "warn" {
				got = c
			}
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("config was never reloaded")
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch returned %v", err)
	}
}

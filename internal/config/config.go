package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/audit"
	"github.com/modlnet/modl/internal/deploy"
	"github.com/modlnet/modl/internal/fees"
	"github.com/modlnet/modl/internal/logging"
	"github.com/modlnet/modl/internal/paymaster"
	"github.com/modlnet/modl/internal/relayhub"
	"github.com/modlnet/modl/internal/stake"
	"github.com/modlnet/modl/internal/tier"
	"github.com/modlnet/modl/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config represents the complete node configuration
type Config struct {
	Hub       HubConfig       `yaml:"hub"`
	Stake     StakeConfig     `yaml:"stake"`
	Tier      TierConfig      `yaml:"tier"`
	Paymaster PaymasterConfig `yaml:"paymaster"`
	Audit     AuditConfig     `yaml:"audit"`
	Fees      FeesConfig      `yaml:"fees"`
	Deploy    DeployConfig    `yaml:"deploy"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Genesis   GenesisConfig   `yaml:"genesis"`
}

// HubConfig contains relay hub parameters. Amounts are base-unit integers
// or decimals with a unit suffix ("1 ether", "2 gwei").
type HubConfig struct {
	GasOverhead             uint64        `yaml:"gas_overhead"`
	PostOverhead            uint64        `yaml:"post_overhead"`
	MaxWorkerCount          int           `yaml:"max_worker_count"`
	MinimumUnstakeDelay     time.Duration `yaml:"minimum_unstake_delay"`
	MaximumRecipientDeposit string        `yaml:"maximum_recipient_deposit"`
	BaseRelayFee            string        `yaml:"base_relay_fee"`
	PctRelayFee             uint64        `yaml:"pct_relay_fee"`
	DevAddress              string        `yaml:"dev_address"`
	DevFee                  uint64        `yaml:"dev_fee"` // percent of every charge
	MinimumStake            string        `yaml:"minimum_stake"`
}

// StakeConfig contains stake manager delays and addresses
type StakeConfig struct {
	MaxUnstakeDelay  time.Duration `yaml:"max_unstake_delay"`
	AbandonmentDelay time.Duration `yaml:"abandonment_delay"`
	EscheatmentDelay time.Duration `yaml:"escheatment_delay"`
	BurnAddress      string        `yaml:"burn_address"`
	DevAddress       string        `yaml:"dev_address"`
	PenaltyShareBps  uint16        `yaml:"penalty_share_bps"`
}

// TierConfig contains the tier table. Each level also carries its paymaster
// discount, audit reward multiplier and API rate limit.
type TierConfig struct {
	Levels       []*types.TierConfig `yaml:"levels"`
	Cooldown     time.Duration       `yaml:"cooldown"`
	BadgeBaseURI string              `yaml:"badge_base_uri"`
}

// PaymasterConfig contains MODL paymaster pricing and limits
type PaymasterConfig struct {
	MinRequiredTier         uint8  `yaml:"min_required_tier"`
	GasToModlRate           string `yaml:"gas_to_modl_rate"` // fee token base units per 1000 gas
	MaxGasToModlRate        string `yaml:"max_gas_to_modl_rate"`
	Policy                  string `yaml:"policy"` // "revert" or "absorb"
	AcceptanceBudget        uint64 `yaml:"acceptance_budget"`
	PreRelayedCallGasLimit  uint64 `yaml:"pre_relayed_call_gas_limit"`
	PostRelayedCallGasLimit uint64 `yaml:"post_relayed_call_gas_limit"`
	CalldataSizeLimit       uint64 `yaml:"calldata_size_limit"`
	HubDeposit              string `yaml:"hub_deposit"` // native funding placed at genesis
}

// AuditConfig contains audit reward and slash amounts
type AuditConfig struct {
	RewardAmount     string `yaml:"reward_amount"`
	SlashAmount      string `yaml:"slash_amount"`
	SlashBeneficiary string `yaml:"slash_beneficiary"`
	RewardPool       string `yaml:"reward_pool"` // funded at genesis
}

// FeesConfig contains the revenue split
type FeesConfig struct {
	Treasury string      `yaml:"treasury"`
	Founders string      `yaml:"founders"`
	Shares   fees.Shares `yaml:"shares"`
}

// DeployConfig contains the template deployment gate and fee
type DeployConfig struct {
	MinTier uint8  `yaml:"min_tier"`
	Fee     string `yaml:"fee"` // MODL per deployment
}

// APIConfig contains API server settings
type APIConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Listen         string        `yaml:"listen"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxRequestSize int64         `yaml:"max_request_size"`
	MaxConnections int           `yaml:"max_connections"` // 0 = unlimited
	RateLimit      bool          `yaml:"rate_limit"`      // per-tier limits from tier.levels
	AdminToken     string        `yaml:"admin_token"`
}

// LoggingConfig contains log settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AccountConfig is a genesis balance.
type AccountConfig struct {
	Address string `yaml:"address"`
	Native  string `yaml:"native"`
	Modl    string `yaml:"modl"`
}

// GenesisConfig seeds the in-process ledger.
type GenesisConfig struct {
	ChainID  int64           `yaml:"chain_id"`
	Time     string          `yaml:"time"` // RFC 3339; empty means now
	Admin    string          `yaml:"admin"`
	Accounts []AccountConfig `yaml:"accounts"`

	// Optional relay manager staked and registered at genesis.
	RelayManager        string        `yaml:"relay_manager"`
	RelayWorkers        []string      `yaml:"relay_workers"`
	ManagerStake        string        `yaml:"manager_stake"`
	ManagerUnstakeDelay time.Duration `yaml:"manager_unstake_delay"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	hub := relayhub.DefaultConfig()
	st := stake.DefaultParams()
	pm := paymaster.DefaultParams()
	ap := audit.DefaultParams()
	dp := deploy.DefaultParams()

	return &Config{
		Hub: HubConfig{
			GasOverhead:             hub.GasOverhead,
			PostOverhead:            hub.PostOverhead,
			MaxWorkerCount:          hub.MaxWorkerCount,
			MinimumUnstakeDelay:     hub.MinimumUnstakeDelay,
			MaximumRecipientDeposit: hub.MaximumRecipientDeposit.String(),
			BaseRelayFee:            "0",
			MinimumStake:            "1 modl",
		},
		Stake: StakeConfig{
			MaxUnstakeDelay:  st.MaxUnstakeDelay,
			AbandonmentDelay: st.AbandonmentDelay,
			EscheatmentDelay: st.EscheatmentDelay,
			BurnAddress:      st.BurnAddress.Hex(),
			PenaltyShareBps:  st.PenaltyShareBps,
		},
		Tier: TierConfig{
			Levels:   types.DefaultTiers(),
			Cooldown: tier.DefaultCooldown,
		},
		Paymaster: PaymasterConfig{
			MinRequiredTier:         pm.MinRequiredTier,
			GasToModlRate:           pm.GasToModlRate.String(),
			MaxGasToModlRate:        pm.MaxGasToModlRate.String(),
			Policy:                  string(pm.Policy),
			AcceptanceBudget:        pm.Limits.AcceptanceBudget,
			PreRelayedCallGasLimit:  pm.Limits.PreRelayedCallGasLimit,
			PostRelayedCallGasLimit: pm.Limits.PostRelayedCallGasLimit,
			CalldataSizeLimit:       pm.Limits.CalldataSizeLimit,
			HubDeposit:              "0.5 ether",
		},
		Audit: AuditConfig{
			RewardAmount: ap.RewardAmount.String(),
			SlashAmount:  ap.SlashAmount.String(),
			RewardPool:   "1000 modl",
		},
		Fees: FeesConfig{
			Treasury: "0x00000000000000000000000000000000000000a1",
			Founders: "0x00000000000000000000000000000000000000a2",
			Shares:   fees.DefaultShares(),
		},
		Deploy: DeployConfig{
			MinTier: dp.MinTier,
			Fee:     "5 modl",
		},
		API: APIConfig{
			Enabled:        true,
			Listen:         "127.0.0.1:8645",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			MaxRequestSize: 1 << 20,
			MaxConnections: 1024,
			RateLimit:      true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Genesis: GenesisConfig{
			ChainID:             1337,
			Admin:               "0x00000000000000000000000000000000000000ad",
			RelayManager:        "0x00000000000000000000000000000000000000b0",
			RelayWorkers:        []string{"0x00000000000000000000000000000000000000b1"},
			ManagerStake:        "10 modl",
			ManagerUnstakeDelay: 7 * 24 * time.Hour,
		},
	}
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration by building every component's
// parameters from it.
func (c *Config) Validate() error {
	if _, err := c.HubParams(); err != nil {
		return fmt.Errorf("hub: %w", err)
	}
	if _, err := c.HubMinimumStake(); err != nil {
		return fmt.Errorf("hub: %w", err)
	}
	if _, err := c.StakeParams(); err != nil {
		return fmt.Errorf("stake: %w", err)
	}
	if _, err := c.TierThresholds(); err != nil {
		return fmt.Errorf("tier: %w", err)
	}
	if _, err := c.PaymasterParams(); err != nil {
		return fmt.Errorf("paymaster: %w", err)
	}
	if _, err := c.AuditParams(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if err := c.Fees.Shares.Validate(); err != nil {
		return fmt.Errorf("fees: %w", err)
	}
	if _, err := c.DeployParams(); err != nil {
		return fmt.Errorf("deploy: %w", err)
	}
	for name, addr := range map[string]string{
		"fees.treasury": c.Fees.Treasury,
		"fees.founders": c.Fees.Founders,
		"genesis.admin": c.Genesis.Admin,
	} {
		if _, err := parseAddress(name, addr, true); err != nil {
			return err
		}
	}
	if _, err := c.GenesisTime(); err != nil {
		return err
	}
	if c.Genesis.ChainID <= 0 {
		return fmt.Errorf("genesis.chain_id must be positive, got %d", c.Genesis.ChainID)
	}
	for i, acct := range c.Genesis.Accounts {
		if _, err := parseAddress(fmt.Sprintf("genesis.accounts[%d].address", i), acct.Address, true); err != nil {
			return err
		}
		if _, err := parseAmountOr(acct.Native, "0"); err != nil {
			return fmt.Errorf("genesis.accounts[%d].native: %w", i, err)
		}
		if _, err := parseAmountOr(acct.Modl, "0"); err != nil {
			return fmt.Errorf("genesis.accounts[%d].modl: %w", i, err)
		}
	}
	if c.Genesis.RelayManager != "" {
		if _, err := parseAddress("genesis.relay_manager", c.Genesis.RelayManager, true); err != nil {
			return err
		}
		if len(c.Genesis.RelayWorkers) > c.Hub.MaxWorkerCount {
			return fmt.Errorf("genesis.relay_workers: %d workers exceeds hub.max_worker_count %d", len(c.Genesis.RelayWorkers), c.Hub.MaxWorkerCount)
		}
		for i, w := range c.Genesis.RelayWorkers {
			if _, err := parseAddress(fmt.Sprintf("genesis.relay_workers[%d]", i), w, true); err != nil {
				return err
			}
		}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the API is enabled")
	}
	if c.API.MaxRequestSize <= 0 {
		return fmt.Errorf("api.max_request_size must be positive")
	}
	if c.API.MaxConnections < 0 {
		return fmt.Errorf("api.max_connections must not be negative")
	}
	for _, lvl := range c.Tier.Levels {
		if lvl.RequestsPerSecond < 0 || lvl.Burst < 0 {
			return fmt.Errorf("tier %d: negative rate limit", lvl.Level)
		}
	}
	return nil
}

// HubParams builds the relay hub configuration.
func (c *Config) HubParams() (relayhub.Config, error) {
	cfg := relayhub.DefaultConfig()
	cfg.GasOverhead = c.Hub.GasOverhead
	cfg.PostOverhead = c.Hub.PostOverhead
	cfg.MaxWorkerCount = c.Hub.MaxWorkerCount
	cfg.MinimumUnstakeDelay = c.Hub.MinimumUnstakeDelay
	cfg.PctRelayFee = c.Hub.PctRelayFee
	cfg.DevFee = c.Hub.DevFee

	var err error
	if cfg.MaximumRecipientDeposit, err = types.ParseAmount(c.Hub.MaximumRecipientDeposit); err != nil {
		return cfg, fmt.Errorf("maximum_recipient_deposit: %w", err)
	}
	if cfg.BaseRelayFee, err = parseAmountOr(c.Hub.BaseRelayFee, "0"); err != nil {
		return cfg, fmt.Errorf("base_relay_fee: %w", err)
	}
	if cfg.DevAddress, err = parseAddress("hub.dev_address", c.Hub.DevAddress, false); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// HubMinimumStake returns the minimum MODL stake for relay managers.
func (c *Config) HubMinimumStake() (*big.Int, error) {
	v, err := types.ParseAmount(c.Hub.MinimumStake)
	if err != nil {
		return nil, fmt.Errorf("minimum_stake: %w", err)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("minimum_stake must be positive")
	}
	return v, nil
}

// StakeParams builds the stake manager parameters.
func (c *Config) StakeParams() (stake.Params, error) {
	p := stake.Params{
		MaxUnstakeDelay:  c.Stake.MaxUnstakeDelay,
		AbandonmentDelay: c.Stake.AbandonmentDelay,
		EscheatmentDelay: c.Stake.EscheatmentDelay,
		PenaltyShareBps:  c.Stake.PenaltyShareBps,
	}
	if p.MaxUnstakeDelay <= 0 || p.AbandonmentDelay <= 0 || p.EscheatmentDelay <= 0 {
		return p, fmt.Errorf("delays must be positive")
	}
	if p.PenaltyShareBps > 10000 {
		return p, fmt.Errorf("penalty_share_bps %d above 10000", p.PenaltyShareBps)
	}
	var err error
	if p.BurnAddress, err = parseAddress("stake.burn_address", c.Stake.BurnAddress, false); err != nil {
		return p, err
	}
	if p.DevAddress, err = parseAddress("stake.dev_address", c.Stake.DevAddress, false); err != nil {
		return p, err
	}
	return p, nil
}

// TierThresholds parses the tier table into ordered minimum stakes. Levels
// must be listed 0..n-1.
func (c *Config) TierThresholds() ([]*big.Int, error) {
	for i, lvl := range c.Tier.Levels {
		if int(lvl.Level) != i {
			return nil, fmt.Errorf("levels must be listed in order; entry %d has level %d", i, lvl.Level)
		}
		if err := lvl.ParseMinStake(); err != nil {
			return nil, fmt.Errorf("level %d: %w", lvl.Level, err)
		}
	}
	if c.Tier.Cooldown < 0 {
		return nil, fmt.Errorf("negative cooldown")
	}
	th := types.Thresholds(c.Tier.Levels)
	if err := tier.ValidateThresholds(th); err != nil {
		return nil, err
	}
	return th, nil
}

// PaymasterParams builds the paymaster parameters, taking discounts from
// the tier table.
func (c *Config) PaymasterParams() (paymaster.Params, error) {
	p := paymaster.DefaultParams()
	p.MinRequiredTier = c.Paymaster.MinRequiredTier
	p.Limits = relayhub.GasAndDataLimits{
		AcceptanceBudget:        c.Paymaster.AcceptanceBudget,
		PreRelayedCallGasLimit:  c.Paymaster.PreRelayedCallGasLimit,
		PostRelayedCallGasLimit: c.Paymaster.PostRelayedCallGasLimit,
		CalldataSizeLimit:       c.Paymaster.CalldataSizeLimit,
	}
	p.TierDiscountBps = make(map[uint8]uint64, len(c.Tier.Levels))
	for _, lvl := range c.Tier.Levels {
		p.TierDiscountBps[lvl.Level] = uint64(lvl.DiscountBps)
	}

	var err error
	if p.Policy, err = paymaster.ParsePolicy(c.Paymaster.Policy); err != nil {
		return p, err
	}
	if p.GasToModlRate, err = types.ParseAmount(c.Paymaster.GasToModlRate); err != nil {
		return p, fmt.Errorf("gas_to_modl_rate: %w", err)
	}
	if p.MaxGasToModlRate, err = types.ParseAmount(c.Paymaster.MaxGasToModlRate); err != nil {
		return p, fmt.Errorf("max_gas_to_modl_rate: %w", err)
	}
	if _, err := parseAmountOr(c.Paymaster.HubDeposit, "0"); err != nil {
		return p, fmt.Errorf("hub_deposit: %w", err)
	}
	if int(p.MinRequiredTier) >= len(c.Tier.Levels) {
		return p, fmt.Errorf("min_required_tier %d has no tier level", p.MinRequiredTier)
	}
	return p, p.Validate()
}

// PaymasterHubDeposit is the native amount deposited to the hub for the
// paymaster at genesis.
func (c *Config) PaymasterHubDeposit() *big.Int {
	v, _ := parseAmountOr(c.Paymaster.HubDeposit, "0")
	return v
}

// AuditParams builds the audit registry parameters, taking reward
// multipliers from the tier table.
func (c *Config) AuditParams() (audit.Params, error) {
	p := audit.DefaultParams()
	p.TierMultiplierBps = make(map[uint8]uint64, len(c.Tier.Levels))
	for _, lvl := range c.Tier.Levels {
		p.TierMultiplierBps[lvl.Level] = uint64(lvl.RewardMultiplierBps)
	}

	var err error
	if p.RewardAmount, err = types.ParseAmount(c.Audit.RewardAmount); err != nil {
		return p, fmt.Errorf("reward_amount: %w", err)
	}
	if p.SlashAmount, err = types.ParseAmount(c.Audit.SlashAmount); err != nil {
		return p, fmt.Errorf("slash_amount: %w", err)
	}
	if p.SlashBeneficiary, err = parseAddress("audit.slash_beneficiary", c.Audit.SlashBeneficiary, false); err != nil {
		return p, err
	}
	if _, err := parseAmountOr(c.Audit.RewardPool, "0"); err != nil {
		return p, fmt.Errorf("reward_pool: %w", err)
	}
	return p, p.Validate()
}

// AuditRewardPool is the MODL placed in the reward pool at genesis.
func (c *Config) AuditRewardPool() *big.Int {
	v, _ := parseAmountOr(c.Audit.RewardPool, "0")
	return v
}

// DeployParams builds the deployment manager parameters.
func (c *Config) DeployParams() (deploy.Params, error) {
	p := deploy.DefaultParams()
	p.MinTier = c.Deploy.MinTier
	var err error
	if p.DeployFee, err = parseAmountOr(c.Deploy.Fee, "0"); err != nil {
		return p, fmt.Errorf("fee: %w", err)
	}
	if int(p.MinTier) >= len(c.Tier.Levels) {
		return p, fmt.Errorf("min_tier %d has no tier level", p.MinTier)
	}
	return p, p.Validate()
}

// GenesisTime returns the configured genesis time, or now.
func (c *Config) GenesisTime() (time.Time, error) {
	if c.Genesis.Time == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, c.Genesis.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("genesis.time: %w", err)
	}
	return t.UTC(), nil
}

// Address parses a config address that Validate has already checked.
func Address(s string) common.Address {
	return common.HexToAddress(s)
}

// Amount parses a config amount that Validate has already checked. Empty
// strings are zero.
func Amount(s string) *big.Int {
	v, _ := parseAmountOr(s, "0")
	return v
}

func parseAmountOr(s, def string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		s = def
	}
	return types.ParseAmount(s)
}

// parseAddress checks that an address is 0x-prefixed, 40 hex chars, and
// non-zero. Empty is allowed unless required.
func parseAddress(name, addr string, required bool) (common.Address, error) {
	if addr == "" {
		if required {
			return common.Address{}, fmt.Errorf("%s is required", name)
		}
		return common.Address{}, nil
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return common.Address{}, fmt.Errorf("%s must start with 0x, got %q", name, addr)
	}
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("%s must be 42 characters of hex, got %q", name, addr)
	}
	a := common.HexToAddress(addr)
	if a == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s must not be the zero address", name)
	}
	return a, nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".modl", "config.yaml")
}

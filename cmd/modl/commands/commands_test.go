package commands

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

func TestCommandUse(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		use  string
		subs []string
	}{
		{NewServeCmd(), "serve", nil},
		{NewConfigCmd(), "config", []string{"init", "show", "validate"}},
		{NewDemoCmd(), "demo [scenario...]", nil},
		{NewStatusCmd(), "status", nil},
		{NewRelayConfigCmd(), "relay-config", nil},
		{NewAccountCmd(), "account [address]", nil},
		{NewStakeCmd(), "stake [manager]", nil},
		{NewTiersCmd(), "tiers", nil},
		{NewAuditsCmd(), "audits [template] [index]", nil},
		{NewTemplatesCmd(), "templates [template]", nil},
		{NewProjectsCmd(), "projects [owner]", nil},
		{NewEventsCmd(), "events", nil},
		{NewSendCmd(), "send [to]", nil},
		{NewKeyCmd(), "key", []string{"create", "import", "show", "forget-password"}},
		{NewAdminCmd(), "admin", []string{"advance", "sweep", "metrics"}},
		{NewVersionCmd(), "version", nil},
	}
	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			if tt.cmd.Use != tt.use {
				t.Errorf("Use mismatch: got %s, want %s", tt.cmd.Use, tt.use)
			}
			for _, name := range tt.subs {
				sub, _, err := tt.cmd.Find([]string{name})
				if err != nil || sub == tt.cmd {
					t.Errorf("missing subcommand %s", name)
				}
			}
		})
	}
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		flags []string
	}{
		{NewServeCmd(), []string{"snapshot", "listen"}},
		{NewDemoCmd(), []string{"verbose"}},
		{NewEventsCmd(), []string{"from", "limit", "follow", "name"}},
		{NewSendCmd(), []string{"data", "gas", "value", "valid-until", "private-key", "keystore", "password", "password-file"}},
	}
	for _, tt := range tests {
		for _, name := range tt.flags {
			if tt.cmd.Flags().Lookup(name) == nil {
				t.Errorf("%s: --%s flag should exist", tt.cmd.Name(), name)
			}
		}
	}

	if NewKeyCmd().PersistentFlags().Lookup("keystore") == nil {
		t.Error("key: --keystore flag should exist")
	}
	if f := NewSendCmd().Flags().Lookup("gas"); f == nil || f.DefValue != "100000" {
		t.Errorf("send --gas default = %v", f)
	}
}

func TestArgValidation(t *testing.T) {
	tests := []struct {
		name string
		cmd  *cobra.Command
		args []string
	}{
		{"account needs address", NewAccountCmd(), nil},
		{"stake rejects extra", NewStakeCmd(), []string{"0x1", "0x2"}},
		{"audits max two", NewAuditsCmd(), []string{"a", "b", "c"}},
		{"templates max one", NewTemplatesCmd(), []string{"a", "b"}},
		{"projects needs owner", NewProjectsCmd(), nil},
		{"send needs target", NewSendCmd(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cmd.Args(tt.cmd, tt.args); err == nil {
				t.Error("expected argument error")
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	wei := func(s string) *big.Int {
		v, _ := new(big.Int).SetString(s, 10)
		return v
	}
	tests := []struct {
		in   *big.Int
		want string
	}{
		{nil, "0 MODL"},
		{big.NewInt(0), "0 MODL"},
		{wei("1000000000000000000"), "1 MODL"},
		{wei("1500000000000000000"), "1.5 MODL"},
		{wei("1234567000000000000000"), "1,234.567 MODL"},
		{big.NewInt(150), "<0.0001 MODL"},
		{wei("-2000000000000000000"), "-2 MODL"},
		{wei("3000000000000000001"), "3 MODL"},
	}
	for _, tt := range tests {
		if got := FormatModl(tt.in); got != tt.want {
			t.Errorf("FormatModl(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatAddress(t *testing.T) {
	addr := "0x00000000000000000000000000000000000000b0"
	if got := FormatAddress(addr); got != "0x0000...00b0" {
		t.Errorf("FormatAddress = %q", got)
	}
	if got := FormatAddress("0xabc"); got != "0xabc" {
		t.Errorf("FormatAddress short = %q", got)
	}
}

func TestRenderTablePlain(t *testing.T) {
	out := renderTablePlain([]string{"A", "NAME"}, [][]string{{"1", "alpha"}, {"22", "b"}})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[1], "--  -----") {
		t.Errorf("separator = %q", lines[1])
	}
	if renderTablePlain(nil, nil) != "" {
		t.Error("expected empty output without headers")
	}
}

func TestParseHelpers(t *testing.T) {
	if _, err := parseAddress("0x00000000000000000000000000000000000000b0"); err != nil {
		t.Errorf("parseAddress: %v", err)
	}
	if _, err := parseAddress("b0"); err == nil {
		t.Error("expected error for short address")
	}

	h := crypto.Keccak256Hash([]byte("template"))
	got, err := parseHash(h.Hex())
	if err != nil || got != h {
		t.Errorf("parseHash = %s, %v", got.Hex(), err)
	}
	if _, err := parseHash("0x1234"); err == nil {
		t.Error("expected error for short hash")
	}
}

func TestResolveSignerFromFlag(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))
	s, err := resolveSigner("0x"+hexKey, t.TempDir(), "", "")
	if err != nil {
		t.Fatalf("resolveSigner: %v", err)
	}
	if s.Address() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Errorf("address = %s", s.Address().Hex())
	}
}

func TestResolveSignerWithoutKey(t *testing.T) {
	t.Setenv("MODL_PRIVATE_KEY", "")
	_, err := resolveSigner("", t.TempDir(), "", "")
	if err == nil || !strings.Contains(err.Error(), "no key") {
		t.Errorf("err = %v", err)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	ConfigPath = path
	t.Cleanup(func() { ConfigPath = "" })

	initCmd := newConfigInitCmd()
	initCmd.SetArgs([]string{"--yes"})
	if err := initCmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "admin_token:") {
		t.Errorf("config missing admin token:\n%s", data)
	}

	again := newConfigInitCmd()
	again.SetArgs([]string{"--yes"})
	if err := again.Execute(); err == nil {
		t.Error("expected error when config exists without --force")
	}

	validate := newConfigValidateCmd()
	validate.SetArgs([]string{path})
	if err := validate.Execute(); err != nil {
		t.Errorf("config validate: %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("genesis:\n  chain_id: -1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	validate = newConfigValidateCmd()
	validate.SetArgs([]string{bad})
	if err := validate.Execute(); err == nil {
		t.Error("expected validation error")
	}
}

func TestGetAPIEndpoint(t *testing.T) {
	ConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() {
		ConfigPath = ""
		APIEndpoint = ""
	})
	if got := GetAPIEndpoint(); got != "http://127.0.0.1:8645" {
		t.Errorf("default endpoint = %q", got)
	}
	APIEndpoint = "http://node:1"
	if got := GetAPIEndpoint(); got != "http://node:1" {
		t.Errorf("flag endpoint = %q", got)
	}
}

func TestGetBuildInfo(t *testing.T) {
	prevVersion, prevCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = prevVersion, prevCommit })

	Version, Commit = "v1.2.3", "abcdef12"
	bi := GetBuildInfo()
	if bi.Version != "v1.2.3" || bi.Commit != "abcdef12" {
		t.Errorf("linker values not preferred: %+v", bi)
	}
	if bi.GoVersion == "" || bi.Platform == "" || bi.BuildDate == "" {
		t.Errorf("missing fields: %+v", bi)
	}

	Version, Commit = "dev", ""
	if bi := GetBuildInfo(); bi.Commit == "" {
		t.Error("commit should default to a placeholder")
	}
}

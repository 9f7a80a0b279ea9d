package daemon

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/logging"
)

const snapshotVersion = 1

// Snapshot is a point-in-time summary of a node's ledgers. It is written
// for operators and is not read back into a node.
type Snapshot struct {
	Version   int       `json:"version"`
	SavedAt   time.Time `json:"saved_at"`
	Block     uint64    `json:"block"`
	Time      time.Time `json:"time"`
	ChainID   *big.Int  `json:"chain_id"`
	Addresses Addresses `json:"addresses"`
	Events    int       `json:"events"`

	ModlSupply          *big.Int `json:"modl_supply"`
	HubTotalBalances    *big.Int `json:"hub_total_balances"`
	HubNativeBalance    *big.Int `json:"hub_native_balance"`
	PaymasterHubBalance *big.Int `json:"paymaster_hub_balance"`
	PaymasterEarmarked  *big.Int `json:"paymaster_earmarked"`
	PaymasterRevenue    *big.Int `json:"paymaster_revenue"`
	RewardPool          *big.Int `json:"reward_pool"`
	FeesBurned          *big.Int `json:"fees_burned"`
	FeesDistributed     *big.Int `json:"fees_distributed"`
	AuditTemplates      int      `json:"audit_templates"`
	Templates           int      `json:"templates"`
	Deployments         uint64   `json:"deployments"`
	DeployFees          *big.Int `json:"deploy_fees"`

	Manager *ManagerSnapshot `json:"relay_manager,omitempty"`
}

// ManagerSnapshot is the genesis relay manager's standing.
type ManagerSnapshot struct {
	Address common.Address `json:"address"`
	Stake   *big.Int       `json:"stake"`
	Workers int            `json:"workers"`
}

// Snapshot reads a consistent summary of the node.
func (n *Node) Snapshot() *Snapshot {
	s := &Snapshot{
		Version:   snapshotVersion,
		SavedAt:   time.Now().UTC(),
		Block:     n.state.BlockNumber(),
		Time:      n.state.Now(),
		ChainID:   n.ChainID(),
		Addresses: n.addrs,
		Events:    len(n.state.Events()),
	}
	n.state.View(func() {
		s.ModlSupply = n.modl.TotalSupply()
		s.HubTotalBalances = n.hub.TotalBalances()
		s.HubNativeBalance = n.Native().BalanceOf(n.addrs.Hub)
		s.PaymasterHubBalance = n.paymaster.HubBalance()
		s.PaymasterEarmarked = n.paymaster.Earmarked()
		s.PaymasterRevenue = n.paymaster.Revenue()
		s.RewardPool = n.audits.RewardPool()
		s.FeesBurned = n.fees.TotalBurned()
		s.FeesDistributed = n.fees.TotalDistributed()
		s.AuditTemplates = len(n.audits.TemplateIDs())
		s.Templates = n.templates.Count()
		s.Deployments = n.deploy.DeploymentCount()
		s.DeployFees = n.deploy.FeesCollected()
		if n.manager != (common.Address{}) {
			s.Manager = &ManagerSnapshot{
				Address: n.manager,
				Stake:   n.stakes.StakeAmount(n.manager),
				Workers: n.hub.WorkerCount(n.manager),
			}
		}
	})
	return s
}

// WriteSnapshot writes the node summary to path atomically.
func (n *Node) WriteSnapshot(path string) error {
	snap := n.Snapshot()

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot file: %w", err)
	}

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snap); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync snapshot file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot file: %w", err)
	}

	logging.Debug("snapshot saved",
		"block", snap.Block,
		"events", snap.Events,
		"path", path,
		logging.Component("daemon"))
	return nil
}

// ReadSnapshot loads a snapshot written by WriteSnapshot.
func ReadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	var snap Snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return &snap, nil
}

// Package relayhub validates, executes and settles relayed calls. Relay
// workers submit signed user requests; a paymaster sponsors the gas and the
// hub pays the worker's manager out of the paymaster's deposit.
package relayhub

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/modlnet/modl/internal/access"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/logging"
	"github.com/modlnet/modl/internal/reverts"
	"github.com/modlnet/modl/internal/stake"
	"github.com/modlnet/modl/internal/token"
	"github.com/modlnet/modl/pkg/types"
)

// Config is one immutable version of the hub parameters.
type Config struct {
	Version                 uint64
	GasOverhead             uint64
	PostOverhead            uint64
	MaxWorkerCount          int
	MinimumUnstakeDelay     time.Duration
	MaximumRecipientDeposit *big.Int
	// Floors for the fees a relay request may carry.
	BaseRelayFee *big.Int
	PctRelayFee  uint64
	// DevFee is the percentage of every charge paid to DevAddress.
	DevAddress common.Address
	DevFee     uint64
}

// DefaultConfig returns the production parameters.
func DefaultConfig() Config {
	return Config{
		Version:                 1,
		GasOverhead:             50000,
		PostOverhead:            50000,
		MaxWorkerCount:          10,
		MinimumUnstakeDelay:     1000 * time.Second,
		MaximumRecipientDeposit: new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		BaseRelayFee:            new(big.Int),
		PctRelayFee:             0,
		DevFee:                  0,
	}
}

// Validate checks the parameters are usable.
func (c Config) Validate() error {
	switch {
	case c.MaxWorkerCount <= 0:
		return reverts.Wrapf(reverts.ErrInvalidConfig, "max worker count must be positive")
	case c.MaximumRecipientDeposit == nil || c.MaximumRecipientDeposit.Sign() <= 0:
		return reverts.Wrapf(reverts.ErrInvalidConfig, "maximum recipient deposit must be positive")
	case c.BaseRelayFee != nil && c.BaseRelayFee.Sign() < 0:
		return reverts.Wrapf(reverts.ErrInvalidConfig, "negative base relay fee")
	case c.DevFee > 100:
		return reverts.Wrapf(reverts.ErrInvalidConfig, "dev fee %d%% above 100%%", c.DevFee)
	case c.DevFee > 0 && c.DevAddress == (common.Address{}):
		return reverts.Wrapf(reverts.ErrInvalidConfig, "dev fee without dev address")
	}
	return nil
}

// RelayResult is returned to the worker for a relay that was accepted.
type RelayResult struct {
	Status       Status
	Charge       *big.Int
	GasUsed      uint64
	InnerGasUsed uint64
	ReturnData   []byte
	Reason       string
}

// Hub is the relay hub.
type Hub struct {
	address common.Address
	acl     *access.Control
	stakes  *stake.Manager
	native  *token.Ledger
	cfg     *Config

	paymasters map[common.Address]Paymaster
	forwarders map[common.Address]Forwarder

	workerToManager map[common.Address]common.Address
	workerCount     map[common.Address]int
	minimumStakes   map[common.Address]*big.Int
	balances        map[common.Address]*big.Int
	deprecationTime time.Time
}

// New creates a hub. The hub must hold PenalizerRole on stakes for
// Penalize to work.
func New(address, owner common.Address, stakes *stake.Manager, native *token.Ledger, cfg Config) (*Hub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseRelayFee == nil {
		cfg.BaseRelayFee = new(big.Int)
	}
	return &Hub{
		address:         address,
		acl:             access.NewControl(address, owner),
		stakes:          stakes,
		native:          native,
		cfg:             &cfg,
		paymasters:      make(map[common.Address]Paymaster),
		forwarders:      make(map[common.Address]Forwarder),
		workerToManager: make(map[common.Address]common.Address),
		workerCount:     make(map[common.Address]int),
		minimumStakes:   make(map[common.Address]*big.Int),
		balances:        make(map[common.Address]*big.Int),
	}, nil
}

// Address returns the hub account, which custodies all deposits.
func (h *Hub) Address() common.Address { return h.address }

// Access returns the hub role table.
func (h *Hub) Access() *access.Control { return h.acl }

// Config returns the current parameter snapshot.
func (h *Hub) Config() Config { return *h.cfg }

// RegisterPaymaster makes a paymaster reachable by address.
func (h *Hub) RegisterPaymaster(pm Paymaster) {
	h.paymasters[pm.Address()] = pm
}

// RegisterForwarder makes a forwarder reachable by address.
func (h *Hub) RegisterForwarder(f Forwarder) {
	h.forwarders[f.Address()] = f
}

// BalanceOf returns the hub balance of acct: a paymaster deposit or a
// manager's earnings.
func (h *Hub) BalanceOf(acct common.Address) *big.Int {
	if b, ok := h.balances[acct]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// TotalBalances sums every hub balance. It always equals the hub's native
// token balance.
func (h *Hub) TotalBalances() *big.Int {
	sum := new(big.Int)
	for _, b := range h.balances {
		sum.Add(sum, b)
	}
	return sum
}

// WorkerManager returns the manager a worker is bound to.
func (h *Hub) WorkerManager(worker common.Address) (common.Address, bool) {
	m, ok := h.workerToManager[worker]
	return m, ok
}

// WorkerCount returns how many workers manager has registered.
func (h *Hub) WorkerCount(manager common.Address) int {
	return h.workerCount[manager]
}

// MinimumStake returns the minimum stake for tokenAddr, or nil if staking
// in that token is not allowed.
func (h *Hub) MinimumStake(tokenAddr common.Address) *big.Int {
	if m, ok := h.minimumStakes[tokenAddr]; ok {
		return new(big.Int).Set(m)
	}
	return nil
}

// GetDeprecationTime returns the deprecation time, zero if unset.
func (h *Hub) GetDeprecationTime() time.Time { return h.deprecationTime }

// IsDeprecated reports whether relaying is disabled at now.
func (h *Hub) IsDeprecated(now time.Time) bool {
	return !h.deprecationTime.IsZero() && !now.Before(h.deprecationTime)
}

// CalculateCharge is base + gasUsed * gasPrice * (100 + pct) / 100.
func (h *Hub) CalculateCharge(gasUsed uint64, relayData *types.RelayData) *big.Int {
	return calculateCharge(gasUsed, relayData)
}

func calculateCharge(gasUsed uint64, relayData *types.RelayData) *big.Int {
	charge := new(big.Int).SetUint64(gasUsed)
	charge.Mul(charge, relayData.GasPrice())
	charge.Mul(charge, new(big.Int).SetUint64(100+relayData.PctRelayFee))
	charge.Div(charge, big.NewInt(100))
	if relayData.BaseRelayFee != nil {
		charge.Add(charge, relayData.BaseRelayFee)
	}
	return charge
}

// MaxPossibleGas is the most gas a request can be charged for.
func (h *Hub) MaxPossibleGas(req *types.RelayRequest) (uint64, error) {
	return worstCaseGas(h.cfg, req)
}

// worstCaseGas sums the worst-case gas of req under cfg. A sum that does
// not fit in a uint64 is rejected.
func worstCaseGas(cfg *Config, req *types.RelayRequest) (uint64, error) {
	total := req.RelayData.TransactionCalldataGasUsed
	for _, g := range []uint64{cfg.GasOverhead, req.Request.Gas, cfg.PostOverhead} {
		var overflow bool
		if total, overflow = math.SafeAdd(total, g); overflow {
			return 0, reverts.Wrapf(reverts.ErrGasLimitTooHigh, "gas %d, calldata gas %d", req.Request.Gas, req.RelayData.TransactionCalldataGasUsed)
		}
	}
	return total, nil
}

func (h *Hub) credit(tx *chain.Tx, acct common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	chain.Set(tx, h.balances, acct, new(big.Int).Add(h.BalanceOf(acct), amount))
}

func (h *Hub) debit(tx *chain.Tx, acct common.Address, amount *big.Int) error {
	bal := h.BalanceOf(acct)
	if bal.Cmp(amount) < 0 {
		return reverts.Wrapf(reverts.ErrInsufficientBalance, "hub balance of %s is %s, needs %s", acct.Hex(), bal, amount)
	}
	chain.Set(tx, h.balances, acct, new(big.Int).Sub(bal, amount))
	return nil
}

// DepositFor adds amount of the native currency to target's hub balance.
// Anyone may top up any account.
func (h *Hub) DepositFor(tx *chain.Tx, caller, target common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return reverts.ErrZeroDeposit
	}
	next := new(big.Int).Add(h.BalanceOf(target), amount)
	if next.Cmp(h.cfg.MaximumRecipientDeposit) > 0 {
		return reverts.Wrapf(reverts.ErrDepositTooBig, "%s > %s", next, h.cfg.MaximumRecipientDeposit)
	}
	if err := h.native.Transfer(tx, caller, h.address, amount); err != nil {
		return err
	}
	h.credit(tx, target, amount)
	tx.Emit(Deposited{Paymaster: target, From: caller, Amount: new(big.Int).Set(amount)})
	return nil
}

// Withdraw sends amount of caller's hub balance to dest.
func (h *Hub) Withdraw(tx *chain.Tx, caller, dest common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return reverts.ErrZeroWithdraw
	}
	if err := h.debit(tx, caller, amount); err != nil {
		return err
	}
	if err := h.native.Transfer(tx, h.address, dest, amount); err != nil {
		return err
	}
	tx.Emit(Withdrawn{Account: caller, Dest: dest, Amount: new(big.Int).Set(amount)})
	return nil
}

// requireManagerStaked checks manager's stake against the minimum for its
// token and the hub's minimum unstake delay.
func (h *Hub) requireManagerStaked(manager common.Address) error {
	info := h.stakes.GetStakeInfo(manager)
	if info.Amount.Sign() == 0 {
		return reverts.Wrapf(reverts.ErrRelayManagerNotStaked, "manager %s has no stake", manager.Hex())
	}
	minimum, ok := h.minimumStakes[info.Token]
	if !ok || minimum.Sign() == 0 {
		return reverts.Wrapf(reverts.ErrTokenNotAllowed, "staking in %s is not allowed", info.Token.Hex())
	}
	return h.stakes.CheckStaked(manager, info.Token, minimum, h.cfg.MinimumUnstakeDelay)
}

// AddRelayWorkers binds workers to the calling manager.
func (h *Hub) AddRelayWorkers(tx *chain.Tx, manager common.Address, workers []common.Address) error {
	if err := h.requireManagerStaked(manager); err != nil {
		return err
	}
	count := h.workerCount[manager] + len(workers)
	if count > h.cfg.MaxWorkerCount {
		return reverts.Wrapf(reverts.ErrTooManyWorkers, "%d > %d", count, h.cfg.MaxWorkerCount)
	}
	for _, w := range workers {
		if owner, ok := h.workerToManager[w]; ok {
			return reverts.Wrapf(reverts.ErrWorkerAlreadyAdded, "%s belongs to %s", w.Hex(), owner.Hex())
		}
		chain.Set(tx, h.workerToManager, w, manager)
	}
	chain.Set(tx, h.workerCount, manager, count)
	added := make([]common.Address, len(workers))
	copy(added, workers)
	tx.Emit(RelayWorkersAdded{Manager: manager, NewWorkers: added, WorkerCount: count})
	return nil
}

// RelayCall validates, executes and settles one relayed request. Any
// rejection before execution leaves no trace. Once executing, a failing
// inner call is reported in the result and still charged.
func (h *Hub) RelayCall(tx *chain.Tx, caller common.Address, maxAcceptanceBudget uint64, req *types.RelayRequest, sig, approvalData []byte) (*RelayResult, error) {
	unlock, ok := tx.Lock("relayhub.RelayCall")
	if !ok {
		return nil, reverts.ErrReentrancy
	}
	defer unlock()

	cfg := *h.cfg
	rd := &req.RelayData

	// admissibility
	if h.IsDeprecated(tx.Now()) {
		return nil, reverts.Wrapf(reverts.ErrHubDeprecated, "since %s", h.deprecationTime.UTC().Format(time.RFC3339))
	}
	if caller != rd.RelayWorker {
		return nil, reverts.Wrapf(reverts.ErrWrongRelayWorker, "caller %s, request names %s", caller.Hex(), rd.RelayWorker.Hex())
	}
	manager, ok := h.workerToManager[rd.RelayWorker]
	if !ok {
		return nil, reverts.Wrapf(reverts.ErrUnknownRelayWorker, "%s", rd.RelayWorker.Hex())
	}
	if err := h.requireManagerStaked(manager); err != nil {
		return nil, err
	}
	if until := req.Request.ValidUntilTime; until != 0 && tx.Now().Unix() >= until {
		return nil, reverts.Wrapf(reverts.ErrRequestExpired, "valid until %d", until)
	}
	if rd.PctRelayFee < cfg.PctRelayFee || (rd.BaseRelayFee == nil && cfg.BaseRelayFee.Sign() > 0) ||
		(rd.BaseRelayFee != nil && rd.BaseRelayFee.Cmp(cfg.BaseRelayFee) < 0) {
		return nil, reverts.Wrapf(reverts.ErrRelayFeeTooLow, "hub requires base %s pct %d", cfg.BaseRelayFee, cfg.PctRelayFee)
	}
	pm, ok := h.paymasters[rd.Paymaster]
	if !ok {
		return nil, reverts.Wrapf(reverts.ErrUnknownPaymaster, "%s", rd.Paymaster.Hex())
	}
	fwd, ok := h.forwarders[rd.Forwarder]
	if !ok || pm.TrustedForwarder() != rd.Forwarder {
		return nil, reverts.Wrapf(reverts.ErrUntrustedForwarder, "%s", rd.Forwarder.Hex())
	}
	if err := fwd.Verify(req, sig); err != nil {
		return nil, err
	}
	limits := pm.GasAndDataLimits()
	if limits.CalldataSizeLimit > 0 && uint64(len(req.Request.Data)) > limits.CalldataSizeLimit {
		return nil, reverts.Wrapf(reverts.ErrInvalidConfig, "calldata %d bytes exceeds paymaster limit %d", len(req.Request.Data), limits.CalldataSizeLimit)
	}

	// budget
	acceptance, overflow := math.SafeAdd(limits.AcceptanceBudget, rd.TransactionCalldataGasUsed)
	if overflow || acceptance > maxAcceptanceBudget {
		return nil, reverts.Wrapf(reverts.ErrAcceptanceBudgetHigh, "paymaster needs %d plus %d calldata gas, worker allows %d", limits.AcceptanceBudget, rd.TransactionCalldataGasUsed, maxAcceptanceBudget)
	}
	maxPossibleGas, err := worstCaseGas(&cfg, req)
	if err != nil {
		return nil, err
	}
	maxPossibleCharge := calculateCharge(maxPossibleGas, rd)

	// paymaster balance
	if bal := h.BalanceOf(pm.Address()); bal.Cmp(maxPossibleCharge) < 0 {
		return nil, reverts.Wrapf(reverts.ErrPaymasterBalanceLow, "balance %s, worst case %s", bal, maxPossibleCharge)
	}

	// execute
	context, err := pm.PreRelayedCall(tx, req, approvalData, maxPossibleGas)
	if err != nil {
		return nil, err
	}
	if err := fwd.UseNonce(tx, req, sig); err != nil {
		return nil, err
	}
	cp := tx.Checkpoint()
	res := fwd.Call(tx, req)

	result := &RelayResult{
		Status:       StatusOK,
		InnerGasUsed: res.GasUsed,
		ReturnData:   res.ReturnData,
	}
	if !res.Success {
		result.Status = StatusRelayedCallFailed
		if res.Err != nil {
			result.Reason = res.Err.Error()
		}
	}
	result.GasUsed = rd.TransactionCalldataGasUsed + cfg.GasOverhead + res.GasUsed + cfg.PostOverhead

	if err := pm.PostRelayedCall(tx, context, res.Success, result.GasUsed, rd); err != nil {
		tx.RevertTo(cp)
		result.Status = StatusPostRelayedFailed
		result.Reason = err.Error()
		result.ReturnData = nil
	}

	// settle
	charge := calculateCharge(result.GasUsed, rd)
	if err := h.debit(tx, pm.Address(), charge); err != nil {
		// unreachable while charge <= maxPossibleCharge <= balance
		return nil, fmt.Errorf("failed to settle relay: %w", err)
	}
	devCharge := new(big.Int)
	if cfg.DevFee > 0 {
		devCharge.Mul(charge, new(big.Int).SetUint64(cfg.DevFee))
		devCharge.Div(devCharge, big.NewInt(100))
		h.credit(tx, cfg.DevAddress, devCharge)
	}
	h.credit(tx, manager, new(big.Int).Sub(charge, devCharge))
	result.Charge = charge

	var selector []byte
	if len(req.Request.Data) >= 4 {
		selector = append(selector, req.Request.Data[:4]...)
	}
	tx.Emit(TransactionRelayed{
		RelayManager: manager,
		RelayWorker:  rd.RelayWorker,
		From:         req.Request.From,
		To:           req.Request.To,
		Paymaster:    pm.Address(),
		Selector:     selector,
		InnerGasUsed: result.InnerGasUsed,
		GasUsed:      result.GasUsed,
		Charge:       new(big.Int).Set(charge),
		Status:       result.Status,
	})
	if result.Status != StatusOK {
		tx.Emit(TransactionResult{Status: result.Status, ReturnValue: result.ReturnData, Reason: result.Reason})
	}

	tx.OnCommit(func() {
		logging.Info("transaction relayed",
			"worker", rd.RelayWorker.Hex(),
			"from", req.Request.From.Hex(),
			"paymaster", pm.Address().Hex(),
			"status", result.Status.String(),
			"gas_used", result.GasUsed,
			"charge", charge.String(),
			logging.Component("relayhub"))
	})
	return result, nil
}

// Penalize confiscates the stake of worker's manager. Proving the
// violation happens outside the hub; the caller must hold PenalizerRole.
func (h *Hub) Penalize(tx *chain.Tx, caller, worker, beneficiary common.Address) error {
	if err := h.acl.Check(access.PenalizerRole, caller); err != nil {
		return err
	}
	manager, ok := h.workerToManager[worker]
	if !ok {
		return reverts.Wrapf(reverts.ErrUnknownRelayWorker, "%s", worker.Hex())
	}
	return h.stakes.Penalize(tx, h.address, manager, beneficiary)
}

// ─── Admin Setters ───────────────────────────────────────────────────────────

// DeprecateHub schedules the hub's shutdown. It can be set once, to a
// future time.
func (h *Hub) DeprecateHub(tx *chain.Tx, caller common.Address, at time.Time) error {
	if err := h.acl.Check(access.DefaultAdmin, caller); err != nil {
		return err
	}
	if !h.deprecationTime.IsZero() {
		return reverts.Wrapf(reverts.ErrDeprecationAlreadySet, "at %s", h.deprecationTime.UTC().Format(time.RFC3339))
	}
	if !at.After(tx.Now()) {
		return reverts.Wrapf(reverts.ErrInvalidConfig, "deprecation time must be in the future")
	}
	chain.Assign(tx, &h.deprecationTime, at.UTC())
	tx.Emit(HubDeprecated{DeprecationTime: at.UTC()})
	tx.OnCommit(func() {
		logging.Audit(logging.AuditEvent{
			Operation: "hub_deprecated",
			Actor:     caller.Hex(),
			Target:    h.address.Hex(),
			Result:    "success",
			Details:   at.UTC().Format(time.RFC3339),
		})
	})
	return nil
}

// SetMinimumStakes sets the minimum manager stake per token. A zero amount
// forbids staking in that token.
func (h *Hub) SetMinimumStakes(tx *chain.Tx, caller common.Address, tokens []common.Address, amounts []*big.Int) error {
	if err := h.acl.Check(access.DefaultAdmin, caller); err != nil {
		return err
	}
	if len(tokens) != len(amounts) {
		return reverts.Wrapf(reverts.ErrInvalidConfig, "%d tokens, %d amounts", len(tokens), len(amounts))
	}
	for i, t := range tokens {
		if amounts[i] == nil || amounts[i].Sign() < 0 {
			return reverts.Wrapf(reverts.ErrInvalidConfig, "invalid minimum for %s", t.Hex())
		}
		chain.Set(tx, h.minimumStakes, t, new(big.Int).Set(amounts[i]))
		tx.Emit(MinimumStakeSet{Token: t, Amount: new(big.Int).Set(amounts[i])})
	}
	return nil
}

// SetConfig replaces the hub parameters with a new version.
func (h *Hub) SetConfig(tx *chain.Tx, caller common.Address, cfg Config) error {
	if err := h.acl.Check(access.DefaultAdmin, caller); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.BaseRelayFee == nil {
		cfg.BaseRelayFee = new(big.Int)
	}
	cfg.Version = h.cfg.Version + 1
	chain.Assign(tx, &h.cfg, &cfg)
	tx.Emit(ConfigUpdated{Version: cfg.Version})
	return nil
}

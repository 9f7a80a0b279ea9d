package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/modlnet/modl/internal/audit"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/deploy"
	"github.com/modlnet/modl/internal/forwarder"
	"github.com/modlnet/modl/internal/logging"
	"github.com/modlnet/modl/internal/relayhub"
	"github.com/modlnet/modl/internal/reverts"
	"github.com/modlnet/modl/internal/stake"
	"github.com/modlnet/modl/internal/template"
	"github.com/modlnet/modl/pkg/types"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

// ErrorResponse is the body of every failed request. Code and Kind are set
// for ledger rejections.
type ErrorResponse struct {
	Error      string     `json:"error"`
	Code       string     `json:"code,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	RetryAfter *time.Time `json:"retryAfter,omitempty"`
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	ChainID             *big.Int       `json:"chainId"`
	Block               uint64         `json:"block"`
	Time                time.Time      `json:"time"`
	Worker              common.Address `json:"worker"`
	Hub                 common.Address `json:"hub"`
	Forwarder           common.Address `json:"forwarder"`
	Paymaster           common.Address `json:"paymaster"`
	Token               common.Address `json:"token"`
	HubDeprecated       bool           `json:"hubDeprecated"`
	HubTotalBalances    *big.Int       `json:"hubTotalBalances"`
	PaymasterHubBalance *big.Int       `json:"paymasterHubBalance"`
	PaymasterRevenue    *big.Int       `json:"paymasterRevenue"`
	RewardPool          *big.Int       `json:"rewardPool"`
	FeesBurned          *big.Int       `json:"feesBurned"`
	Events              int            `json:"events"`
	StreamClients       int            `json:"streamClients"`
}

// HubConfigView is the part of the hub configuration clients price with.
type HubConfigView struct {
	Version      uint64   `json:"version"`
	GasOverhead  uint64   `json:"gasOverhead"`
	PostOverhead uint64   `json:"postOverhead"`
	BaseRelayFee *big.Int `json:"baseRelayFee"`
	PctRelayFee  uint64   `json:"pctRelayFee"`
	DevFee       uint64   `json:"devFee"`
}

// RelayConfigResponse tells a client how to build a request this node
// will relay.
type RelayConfigResponse struct {
	ChainID         *big.Int                  `json:"chainId"`
	Worker          common.Address            `json:"relayWorker"`
	Hub             common.Address            `json:"hub"`
	Forwarder       common.Address            `json:"forwarder"`
	Paymaster       common.Address            `json:"paymaster"`
	DomainName      string                    `json:"domainName"`
	DomainVersion   string                    `json:"domainVersion"`
	DomainSeparator common.Hash               `json:"domainSeparator"`
	Limits          relayhub.GasAndDataLimits `json:"limits"`
	HubConfig       HubConfigView             `json:"hubConfig"`
	GasToModlRate   *big.Int                  `json:"gasToModlRate"`
	MinRequiredTier uint8                     `json:"minRequiredTier"`
	TierDiscountBps map[uint8]uint64          `json:"tierDiscountBps"`
	Policy          string                    `json:"policy"`
}

// NonceResponse is returned by GET /v1/relay/nonce/{address}.
type NonceResponse struct {
	Address common.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
}

// RelayBody is the body of POST /v1/relay.
type RelayBody struct {
	Request      types.RelayRequest `json:"request"`
	Signature    hexutil.Bytes      `json:"signature"`
	ApprovalData hexutil.Bytes      `json:"approvalData,omitempty"`
}

// RelayResponse reports a relayed call. A failed inner call is still a
// successful relay and carries its status here.
type RelayResponse struct {
	Status       relayhub.Status `json:"status"`
	Charge       *big.Int        `json:"charge"`
	GasUsed      uint64          `json:"gasUsed"`
	InnerGasUsed uint64          `json:"innerGasUsed"`
	ReturnData   hexutil.Bytes   `json:"returnData,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

// BalanceResponse is a single account balance.
type BalanceResponse struct {
	Address common.Address `json:"address"`
	Balance *big.Int       `json:"balance"`
}

// StakeResponse is returned by GET /v1/stake/{manager}.
type StakeResponse struct {
	Manager     common.Address `json:"manager"`
	Info        stake.Info     `json:"info"`
	Unlocked    bool           `json:"unlocked"`
	WorkerCount int            `json:"workerCount"`
	Staked      bool           `json:"staked"`
	Reason      string         `json:"reason,omitempty"`
}

// TierResponse is returned by GET /v1/tier/{address}.
type TierResponse struct {
	Address      common.Address `json:"address"`
	Tier         uint8          `json:"tier"`
	Name         string         `json:"name,omitempty"`
	Stake        *big.Int       `json:"stake"`
	CooldownEnds time.Time      `json:"cooldownEnds,omitempty"`
	BadgeID      uint64         `json:"badgeId,omitempty"`
	BadgeURI     string         `json:"badgeUri,omitempty"`
}

// PaymasterAccountResponse is returned by GET /v1/paymaster/{address}.
type PaymasterAccountResponse struct {
	Address     common.Address `json:"address"`
	Deposit     *big.Int       `json:"deposit"`
	Hold        *big.Int       `json:"hold"`
	Available   *big.Int       `json:"available"`
	Tier        uint8          `json:"tier"`
	DiscountBps uint64         `json:"discountBps"`
	Eligible    bool           `json:"eligible"`
}

// AuditsResponse lists a template's audits.
type AuditsResponse struct {
	TemplateID common.Hash   `json:"templateId"`
	Audits     []audit.Audit `json:"audits"`
}

// TemplatesResponse lists the catalog in registration order.
type TemplatesResponse struct {
	Templates []template.Template `json:"templates"`
}

// ProjectView is a project with the modules deployed into it.
type ProjectView struct {
	deploy.Project
	Modules []deploy.Module `json:"modules"`
}

type ProjectsResponse struct {
	Owner    common.Address `json:"owner"`
	Projects []ProjectView  `json:"projects"`
}

// EventsResponse is one page of the event log. Next is the index to ask
// for on the following call.
type EventsResponse struct {
	Events []chain.LoggedEvent `json:"events"`
	Next   int                 `json:"next"`
}

// AdvanceTimeBody is the body of POST /v1/admin/time/advance.
type AdvanceTimeBody struct {
	Duration string `json:"duration"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	b := s.backend
	state := b.State()
	resp := StatusResponse{
		ChainID:       b.ChainID(),
		Worker:        b.Worker(),
		Hub:           b.Hub().Address(),
		Forwarder:     b.Forwarder().Address(),
		Paymaster:     b.Paymaster().Address(),
		Token:         b.Modl().Address(),
		StreamClients: s.stream.count(),
	}
	resp.Block = state.BlockNumber()
	resp.Time = state.Now()
	state.View(func() {
		resp.HubDeprecated = b.Hub().IsDeprecated(resp.Time)
		resp.HubTotalBalances = b.Hub().TotalBalances()
		resp.PaymasterHubBalance = b.Paymaster().HubBalance()
		resp.PaymasterRevenue = b.Paymaster().Revenue()
		resp.RewardPool = b.Audits().RewardPool()
		resp.FeesBurned = b.Fees().TotalBurned()
	})
	resp.Events = len(state.EventsSince(0))
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRelayConfig(w http.ResponseWriter, r *http.Request) {
	b := s.backend
	resp := RelayConfigResponse{
		ChainID:         b.ChainID(),
		Worker:          b.Worker(),
		Hub:             b.Hub().Address(),
		Forwarder:       b.Forwarder().Address(),
		Paymaster:       b.Paymaster().Address(),
		DomainName:      forwarder.DomainName,
		DomainVersion:   forwarder.DomainVersion,
		DomainSeparator: b.Forwarder().DomainSeparator(),
	}
	b.State().View(func() {
		hc := b.Hub().Config()
		resp.HubConfig = HubConfigView{
			Version:      hc.Version,
			GasOverhead:  hc.GasOverhead,
			PostOverhead: hc.PostOverhead,
			BaseRelayFee: hc.BaseRelayFee,
			PctRelayFee:  hc.PctRelayFee,
			DevFee:       hc.DevFee,
		}
		p := b.Paymaster().Params()
		resp.Limits = p.Limits
		resp.GasToModlRate = p.GasToModlRate
		resp.MinRequiredTier = p.MinRequiredTier
		resp.TierDiscountBps = p.TierDiscountBps
		resp.Policy = string(p.Policy)
	})
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "address")
	if !ok {
		return
	}
	resp := NonceResponse{Address: addr}
	s.backend.State().View(func() { resp.Nonce = s.backend.Forwarder().GetNonce(addr) })
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var body RelayBody
	if err := s.readJSON(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid relay body: %v", err))
		return
	}
	if len(body.Signature) == 0 {
		s.writeError(w, http.StatusBadRequest, "signature is required")
		return
	}

	res, err := s.backend.Relay(&body.Request, body.Signature, body.ApprovalData)
	if err != nil {
		logging.Info("relay rejected",
			"from", body.Request.Request.From.Hex(),
			"nonce", body.Request.Request.Nonce,
			logging.Err(err),
			logging.Component("api"))
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, RelayResponse{
		Status:       res.Status,
		Charge:       res.Charge,
		GasUsed:      res.GasUsed,
		InnerGasUsed: res.InnerGasUsed,
		ReturnData:   res.ReturnData,
		Reason:       res.Reason,
	})
}

func (s *Server) handleHubBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "address")
	if !ok {
		return
	}
	resp := BalanceResponse{Address: addr}
	s.backend.State().View(func() { resp.Balance = s.backend.Hub().BalanceOf(addr) })
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	manager, ok := s.pathAddress(w, r, "manager")
	if !ok {
		return
	}
	b := s.backend
	resp := StakeResponse{Manager: manager}
	b.State().View(func() {
		resp.Info = b.Stakes().GetStakeInfo(manager)
		resp.WorkerCount = b.Hub().WorkerCount(manager)
		resp.Unlocked = resp.Info.Unlocked()
		minStake := b.Hub().MinimumStake(resp.Info.Token)
		if err := b.Stakes().CheckStaked(manager, resp.Info.Token, minStake, b.Hub().Config().MinimumUnstakeDelay); err != nil {
			resp.Reason = err.Error()
		} else {
			resp.Staked = true
		}
	})
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTier(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "address")
	if !ok {
		return
	}
	b := s.backend
	resp := TierResponse{Address: addr}
	b.State().View(func() {
		rec := b.Tiers().Record(addr)
		resp.Tier = b.Tiers().GetTier(addr)
		resp.Stake = rec.CurrentStake
		resp.CooldownEnds = b.Tiers().CooldownEnds(addr)
		resp.BadgeID = rec.BadgeID
		if badge, ok := b.Tiers().Badges().Get(rec.BadgeID); ok && rec.BadgeID != 0 {
			resp.BadgeURI = badge.URI
		}
	})
	resp.Name = s.tierName(resp.Tier)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) tierName(t uint8) string {
	for _, lvl := range s.config.Tiers {
		if lvl.Level == t {
			return lvl.Name
		}
	}
	return ""
}

func (s *Server) handlePaymasterAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "address")
	if !ok {
		return
	}
	b := s.backend
	resp := PaymasterAccountResponse{Address: addr}
	b.State().View(func() {
		pm := b.Paymaster()
		p := pm.Params()
		resp.Deposit = pm.DepositOf(addr)
		resp.Hold = pm.HoldOf(addr)
		resp.Available = pm.Available(addr)
		resp.Tier = b.Tiers().GetTier(addr)
		resp.DiscountBps = p.TierDiscountBps[resp.Tier]
		resp.Eligible = resp.Tier >= p.MinRequiredTier
	})
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAuditTemplates(w http.ResponseWriter, r *http.Request) {
	var ids []common.Hash
	s.backend.State().View(func() { ids = s.backend.Audits().TemplateIDs() })
	if ids == nil {
		ids = []common.Hash{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]common.Hash{"templates": ids})
}

func (s *Server) handleAudits(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathTemplate(w, r)
	if !ok {
		return
	}
	resp := AuditsResponse{TemplateID: id}
	s.backend.State().View(func() { resp.Audits = s.backend.Audits().GetAudits(id) })
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathTemplate(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		s.writeError(w, http.StatusBadRequest, "index must be a non-negative integer")
		return
	}
	var a audit.Audit
	s.backend.State().View(func() { a, err = s.backend.Audits().GetAudit(id, index) })
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	var resp TemplatesResponse
	s.backend.State().View(func() { resp.Templates = s.backend.Templates().Templates() })
	if resp.Templates == nil {
		resp.Templates = []template.Template{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathTemplate(w, r)
	if !ok {
		return
	}
	var t template.Template
	var err error
	s.backend.State().View(func() { t, err = s.backend.Templates().GetTemplate(id) })
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.pathAddress(w, r, "address")
	if !ok {
		return
	}
	resp := ProjectsResponse{Owner: owner, Projects: []ProjectView{}}
	s.backend.State().View(func() {
		mgr := s.backend.Deploy()
		for _, p := range mgr.UserProjects(owner) {
			resp.Projects = append(resp.Projects, ProjectView{Project: p, Modules: mgr.ProjectModules(p.ID)})
		}
	})
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	from, err := queryInt(r, "from", 0)
	if err != nil || from < 0 {
		s.writeError(w, http.StatusBadRequest, "from must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", defaultEventPage)
	if err != nil || limit <= 0 {
		s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	limit = min(limit, maxEventPage)

	events := s.backend.State().EventsSince(from)
	if len(events) > limit {
		events = events[:limit]
	}
	if events == nil {
		events = []chain.LoggedEvent{}
	}
	s.writeJSON(w, http.StatusOK, EventsResponse{Events: events, Next: from + len(events)})
}

func (s *Server) handleAdvanceTime(w http.ResponseWriter, r *http.Request) {
	var body AdvanceTimeBody
	if err := s.readJSON(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	d, err := time.ParseDuration(body.Duration)
	if err != nil || d <= 0 {
		s.writeError(w, http.StatusBadRequest, "duration must be a positive Go duration")
		return
	}
	now := s.backend.AdvanceTime(d)
	logging.Audit(logging.AuditEvent{
		Operation: "advance_time",
		Actor:     s.extractClientIP(r),
		Target:    "clock",
		Result:    "success",
		Details:   d.String(),
	})
	s.writeJSON(w, http.StatusOK, map[string]time.Time{"now": now})
}

func (s *Server) handleSweepRevenue(w http.ResponseWriter, r *http.Request) {
	swept, err := s.backend.SweepRevenue()
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]*big.Int{"swept": swept})
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.writeError(w, http.StatusNotFound, "metrics are disabled")
		return
	}
	data, err := s.metrics.GetMetricsJSON()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to encode metrics")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	v := r.PathValue(name)
	if !common.IsHexAddress(v) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("%s is not a valid address: %q", name, v))
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func (s *Server) pathTemplate(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	raw, err := hexutil.Decode(r.PathValue("template"))
	if err != nil || len(raw) != common.HashLength {
		s.writeError(w, http.StatusBadRequest, "template must be a 0x-prefixed 32-byte hex id")
		return common.Hash{}, false
	}
	return common.BytesToHash(raw), true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// readJSON decodes the request body, rejecting unknown fields.
func (s *Server) readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeJSON writes JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("failed to write response", logging.Err(err), logging.Component("api"))
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

// writeFailure maps a ledger rejection to its HTTP status. Anything else
// is an internal error.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var rev *reverts.Error
	if !errors.As(err, &rev) {
		logging.Error("request failed", logging.Err(err), logging.Component("api"))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := ErrorResponse{Error: rev.Error(), Code: rev.Code, Kind: rev.Kind.String()}
	if until, ok := reverts.UntilOf(err); ok {
		resp.RetryAfter = &until
	}
	s.writeJSON(w, StatusForKind(rev.Kind), resp)
}

// StatusForKind maps a rejection kind to an HTTP status.
func StatusForKind(k reverts.Kind) int {
	switch k {
	case reverts.KindAdmissibility:
		return http.StatusUnprocessableEntity
	case reverts.KindEconomic:
		return http.StatusPaymentRequired
	case reverts.KindUnauthorized:
		return http.StatusForbidden
	case reverts.KindTooEarly:
		return http.StatusTooEarly
	case reverts.KindNotFound:
		return http.StatusNotFound
	case reverts.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

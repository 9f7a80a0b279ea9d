package audit

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type AuditSubmitted struct {
	TemplateID  common.Hash    `json:"templateId"`
	Index       int            `json:"index"`
	Auditor     common.Address `json:"auditor"`
	Subject     common.Address `json:"subject"`
	ReportURI   string         `json:"reportUri"`
	AuditorTier uint8          `json:"auditorTier"`
}

func (AuditSubmitted) EventName() string { return "AuditSubmitted" }

type AuditDisputed struct {
	TemplateID common.Hash    `json:"templateId"`
	Index      int            `json:"index"`
	Disputer   common.Address `json:"disputer"`
	Reason     string         `json:"reason"`
}

func (AuditDisputed) EventName() string { return "AuditDisputed" }

type AuditVerified struct {
	TemplateID common.Hash    `json:"templateId"`
	Index      int            `json:"index"`
	Verifier   common.Address `json:"verifier"`
	Status     Status         `json:"status"`
}

func (AuditVerified) EventName() string { return "AuditVerified" }

type RewardPaid struct {
	TemplateID common.Hash    `json:"templateId"`
	Index      int            `json:"index"`
	Auditor    common.Address `json:"auditor"`
	Amount     *big.Int       `json:"amount"`
}

func (RewardPaid) EventName() string { return "RewardPaid" }

type AuditorSlashed struct {
	TemplateID  common.Hash    `json:"templateId"`
	Index       int            `json:"index"`
	Auditor     common.Address `json:"auditor"`
	Amount      *big.Int       `json:"amount"`
	Beneficiary common.Address `json:"beneficiary"`
}

func (AuditorSlashed) EventName() string { return "AuditorSlashed" }

type RewardPoolFunded struct {
	From   common.Address `json:"from"`
	Amount *big.Int       `json:"amount"`
}

func (RewardPoolFunded) EventName() string { return "RewardPoolFunded" }

type ParamsUpdated struct {
	Version uint64 `json:"version"`
	Field   string `json:"field"`
}

func (ParamsUpdated) EventName() string { return "AuditParamsUpdated" }

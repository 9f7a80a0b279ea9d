package template

import "github.com/ethereum/go-ethereum/common"

type TemplateRegistered struct {
	TemplateID     common.Hash    `json:"templateId"`
	Author         common.Address `json:"author"`
	Implementation common.Address `json:"implementation"`
	Name           string         `json:"name"`
	Version        string         `json:"version"`
	Kind           Kind           `json:"templateType"`
}

func (TemplateRegistered) EventName() string { return "TemplateRegistered" }

type TemplateVerified struct {
	TemplateID common.Hash    `json:"templateId"`
	Verifier   common.Address `json:"verifier"`
}

func (TemplateVerified) EventName() string { return "TemplateVerified" }

type TemplateUpdated struct {
	TemplateID     common.Hash    `json:"templateId"`
	Implementation common.Address `json:"implementation"`
	Version        string         `json:"version"`
	AuditHash      string         `json:"auditHash"`
}

func (TemplateUpdated) EventName() string { return "TemplateUpdated" }

type TemplateDeprecated struct {
	TemplateID common.Hash `json:"templateId"`
}

func (TemplateDeprecated) EventName() string { return "TemplateDeprecated" }

// TemplateAudited follows an approved audit of the template.
type TemplateAudited struct {
	TemplateID common.Hash `json:"templateId"`
	AuditHash  string      `json:"auditHash"`
}

func (TemplateAudited) EventName() string { return "TemplateAudited" }

package deploy

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type ProjectCreated struct {
	ProjectID uint64         `json:"projectId"`
	Owner     common.Address `json:"owner"`
	Name      string         `json:"name"`
}

func (ProjectCreated) EventName() string { return "ProjectCreated" }

type ProjectDeleted struct {
	ProjectID uint64         `json:"projectId"`
	Owner     common.Address `json:"owner"`
}

func (ProjectDeleted) EventName() string { return "ProjectDeleted" }

// TemplateDeployed is emitted for every instance, in a project or not.
type TemplateDeployed struct {
	TemplateID common.Hash    `json:"templateId"`
	User       common.Address `json:"user"`
	Instance   common.Address `json:"instance"`
	Fee        *big.Int       `json:"fee"`
	InitData   hexutil.Bytes  `json:"initData,omitempty"`
}

func (TemplateDeployed) EventName() string { return "TemplateDeployed" }

type ModuleDeployed struct {
	ProjectID  uint64         `json:"projectId"`
	TemplateID common.Hash    `json:"templateId"`
	Instance   common.Address `json:"instance"`
	Metadata   string         `json:"metadata"`
}

func (ModuleDeployed) EventName() string { return "ModuleDeployed" }

type ParamsUpdated struct {
	Version   uint64   `json:"version"`
	MinTier   uint8    `json:"minTier"`
	DeployFee *big.Int `json:"deployFee"`
}

func (ParamsUpdated) EventName() string { return "DeployParamsUpdated" }

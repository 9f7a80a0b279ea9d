//go:build !linux

package identity

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var errNoKernelKeyring = errors.New("kernel keyring is only available on Linux")

func StoreKernelKeyring(common.Address, string) error { return errNoKernelKeyring }

func RetrieveKernelKeyring(common.Address) (string, error) { return "", errNoKernelKeyring }

func DeleteKernelKeyring(common.Address) error { return errNoKernelKeyring }

//go:build linux

package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sys/unix"
)

const maxPasswordLen = 4096

func kernelKeyName(addr common.Address) string {
	return "modl-keystore:" + strings.ToLower(addr.Hex())
}

func kernelKeyID(addr common.Address) (int, error) {
	id, err := unix.KeyctlSearch(unix.KEY_SPEC_USER_KEYRING, "user", kernelKeyName(addr), 0)
	if err != nil {
		return 0, fmt.Errorf("kernel keyring search failed: %w", err)
	}
	return id, nil
}

// StoreKernelKeyring keeps addr's keystore password in the user's kernel
// keyring. It does not survive a reboot.
func StoreKernelKeyring(addr common.Address, password string) error {
	if _, err := unix.AddKey("user", kernelKeyName(addr), []byte(password), unix.KEY_SPEC_USER_KEYRING); err != nil {
		return fmt.Errorf("kernel keyring add failed: %w", err)
	}
	return nil
}

// RetrieveKernelKeyring reads the password stored by StoreKernelKeyring.
func RetrieveKernelKeyring(addr common.Address) (string, error) {
	id, err := kernelKeyID(addr)
	if err != nil {
		return "", err
	}
	buf := make([]byte, maxPasswordLen)
	n, err := unix.KeyctlBuffer(unix.KEYCTL_READ, id, buf, 0)
	if err != nil {
		return "", fmt.Errorf("kernel keyring read failed: %w", err)
	}
	if n > len(buf) {
		return "", errors.New("kernel keyring entry too large")
	}
	return string(buf[:n]), nil
}

// DeleteKernelKeyring removes the stored password. A missing key is not
// an error.
func DeleteKernelKeyring(addr common.Address) error {
	id, err := kernelKeyID(addr)
	if err != nil {
		return nil
	}
	if _, err := unix.KeyctlInt(unix.KEYCTL_UNLINK, id, unix.KEY_SPEC_USER_KEYRING, 0, 0); err != nil {
		return fmt.Errorf("kernel keyring unlink failed: %w", err)
	}
	return nil
}

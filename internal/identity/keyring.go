package identity

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
	"github.com/ethereum/go-ethereum/common"
)

const keyringServiceName = "modl"

// openKeyring returns the platform keyring and a name for it. Tests swap
// it for an in-memory ring.
var openKeyring = openPlatformKeyring

// passwordKey names the keyring entry for one keystore account, so
// several keystores can keep their passwords side by side.
func passwordKey(addr common.Address) string {
	return "keystore-password:" + strings.ToLower(addr.Hex())
}

// StoreWalletPassword saves the keystore password for addr in the
// platform keyring and returns the backend's name.
func StoreWalletPassword(addr common.Address, password string) (string, error) {
	ring, backend, err := openKeyring()
	if err != nil {
		return "", err
	}
	err = ring.Set(keyring.Item{
		Key:         passwordKey(addr),
		Data:        []byte(password),
		Label:       "MODL keystore " + addr.Hex(),
		Description: "Password for the MODL relay signing key",
	})
	if err != nil {
		return "", fmt.Errorf("failed to store in %s: %w", backend, err)
	}
	return backend, nil
}

// RetrieveWalletPassword returns ("", nil) when the keyring holds no
// password for addr and an error when no keyring is available.
func RetrieveWalletPassword(addr common.Address) (string, error) {
	ring, _, err := openKeyring()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(passwordKey(addr))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

// DeleteWalletPassword removes addr's password from the platform keyring.
func DeleteWalletPassword(addr common.Address) error {
	ring, _, err := openKeyring()
	if err != nil {
		return err
	}
	err = ring.Remove(passwordKey(addr))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}

// SavePassword stores the password in the platform keyring, falling back
// to the kernel keyring on headless Linux. It returns where it went.
func SavePassword(addr common.Address, password string) (string, error) {
	backend, err := StoreWalletPassword(addr, password)
	if err == nil {
		return backend, nil
	}
	if kerr := StoreKernelKeyring(addr, password); kerr == nil {
		return "kernel keyring (lost on reboot)", nil
	}
	return "", fmt.Errorf("no keyring available: %w", err)
}

// ForgetPassword removes addr's password from every keyring. It reports
// whether any removal succeeded.
func ForgetPassword(addr common.Address) bool {
	platform := DeleteWalletPassword(addr) == nil
	kernel := DeleteKernelKeyring(addr) == nil
	return platform || kernel
}

// ResolvePassword picks addr's keystore password from, in order: value,
// the contents of file, the platform keyring and the Linux kernel
// keyring. ok is false when none had one.
func ResolvePassword(addr common.Address, value, file string) (password string, ok bool, err error) {
	if value != "" {
		return value, true, nil
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", false, fmt.Errorf("failed to read password file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), true, nil
	}
	if p, err := RetrieveWalletPassword(addr); err == nil && p != "" {
		return p, true, nil
	}
	if p, err := RetrieveKernelKeyring(addr); err == nil && p != "" {
		return p, true, nil
	}
	return "", false, nil
}

func openPlatformKeyring() (keyring.Keyring, string, error) {
	var backends []keyring.BackendType
	var name string
	switch runtime.GOOS {
	case "darwin":
		backends = []keyring.BackendType{keyring.KeychainBackend}
		name = "macOS Keychain"
	case "linux":
		backends = []keyring.BackendType{keyring.SecretServiceBackend, keyring.KWalletBackend}
		name = "Secret Service"
	default:
		return nil, "", fmt.Errorf("no keyring backend available on %s", runtime.GOOS)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:                    keyringServiceName,
		AllowedBackends:                backends,
		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to open keyring: %w", err)
	}
	return ring, name, nil
}

// Package identity manages the keys users sign relay requests with.
package identity

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Scrypt cost for new keystore files.
var (
	scryptN = keystore.StandardScryptN
	scryptP = keystore.StandardScryptP
)

// Wallet is a single-account keystore directory.
type Wallet struct {
	keystore   *keystore.KeyStore
	dir        string
	address    common.Address
	privateKey *ecdsa.PrivateKey
}

func openKeystore(dir string) (*keystore.KeyStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}
	return keystore.NewKeyStore(dir, scryptN, scryptP), nil
}

// LoadWallet opens the wallet in dir. It returns (nil, nil) when the
// directory holds no key.
func LoadWallet(dir string) (*Wallet, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	accounts := ks.Accounts()
	if len(accounts) == 0 {
		return nil, nil
	}
	return &Wallet{keystore: ks, dir: dir, address: accounts[0].Address}, nil
}

// CreateWallet generates a new key in dir. It fails if dir already holds
// one.
func CreateWallet(dir, password string) (*Wallet, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	if len(ks.Accounts()) > 0 {
		return nil, fmt.Errorf("wallet already exists in %s", dir)
	}
	account, err := ks.NewAccount(password)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return &Wallet{keystore: ks, dir: dir, address: account.Address}, nil
}

// ImportWallet stores a hex private key in dir.
func ImportWallet(dir, privKeyHex, password string) (*Wallet, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	if len(ks.Accounts()) > 0 {
		return nil, fmt.Errorf("wallet already exists in %s", dir)
	}
	account, err := ks.ImportECDSA(privateKey, password)
	if err != nil {
		return nil, fmt.Errorf("failed to import key: %w", err)
	}
	return &Wallet{keystore: ks, dir: dir, address: account.Address}, nil
}

// Address returns the wallet's account.
func (w *Wallet) Address() common.Address { return w.address }

// Dir returns the keystore directory.
func (w *Wallet) Dir() string { return w.dir }

// PrivateKey decrypts the key. It is cached until ClearCachedKey.
func (w *Wallet) PrivateKey(password string) (*ecdsa.PrivateKey, error) {
	if w.privateKey != nil {
		return w.privateKey, nil
	}
	accounts := w.keystore.Accounts()
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts found in %s", w.dir)
	}
	keyJSON, err := os.ReadFile(accounts[0].URL.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}
	w.privateKey = key.PrivateKey
	return key.PrivateKey, nil
}

// ClearCachedKey zeroes the cached key.
func (w *Wallet) ClearCachedKey() {
	if w.privateKey != nil {
		w.privateKey.D.SetUint64(0)
		w.privateKey = nil
	}
}

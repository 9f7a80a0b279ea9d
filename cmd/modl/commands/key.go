package commands

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/modlnet/modl/internal/identity"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const minPasswordLength = 8

// NewKeyCmd creates the signing key command group.
func NewKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the signing key for relayed requests",
		Long: `Manage the key that signs relay requests sent with "modl send".

The key is stored as an encrypted keystore file (geth V3 format) in
~/.modl/keystore. Its password can be saved to the platform keyring
(macOS Keychain, Secret Service) or, on headless Linux, the kernel
keyring so that "modl send" can unlock it without prompting.`,
	}

	cmd.PersistentFlags().String("keystore", "", "Keystore directory (default ~/.modl/keystore)")
	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyImportCmd())
	cmd.AddCommand(newKeyShowCmd())
	cmd.AddCommand(newKeyForgetPasswordCmd())
	return cmd
}

func keystoreDir(cmd *cobra.Command) string {
	if dir, _ := cmd.Flags().GetString("keystore"); dir != "" {
		return dir
	}
	return GetKeystoreDir()
}

// storePasswordInKeyring saves the password in the best available keyring.
func storePasswordInKeyring(w *identity.Wallet, password string) {
	backend, err := identity.SavePassword(w.Address(), password)
	if err != nil {
		Warning("Password not saved: " + err.Error())
		fmt.Println(Hint("Pass --password-file to \"modl send\" instead."))
		return
	}
	fmt.Println(KeyValue("Password", "saved to "+backend))
}

// promptNewPassword asks for a password twice.
func promptNewPassword() (string, error) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Fprint(os.Stderr, "Enter keystore password: ")
		password, err := readPasswordNoEcho()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		if len(password) < minPasswordLength {
			Warning(fmt.Sprintf("Password must be at least %d characters. Try again.", minPasswordLength))
			continue
		}

		fmt.Fprint(os.Stderr, "Confirm keystore password: ")
		confirm, err := readPasswordNoEcho()
		if err != nil {
			return "", fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		if password != confirm {
			Warning("Passwords do not match. Try again.")
			continue
		}
		return password, nil
	}
	return "", fmt.Errorf("too many failed attempts")
}

func newKeyCreateCmd() *cobra.Command {
	var savePassword bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Generate a new signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := keystoreDir(cmd)
			existing, err := identity.LoadWallet(dir)
			if err != nil {
				return fmt.Errorf("failed to check keystore: %w", err)
			}
			if existing != nil {
				return fmt.Errorf("key already exists at %s (address: %s)", dir, existing.Address().Hex())
			}

			password, err := promptNewPassword()
			if err != nil {
				return err
			}
			var w *identity.Wallet
			err = WithSpinner("Encrypting keystore", func() error {
				w, err = identity.CreateWallet(dir, password)
				return err
			})
			if err != nil {
				return err
			}

			Success("Key created")
			fmt.Println(KeyValue("Address", w.Address().Hex()))
			fmt.Println(KeyValue("Keystore", dir))
			if savePassword {
				storePasswordInKeyring(w, password)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&savePassword, "save-password", true, "Save the password in the system keyring")
	return cmd
}

func newKeyImportCmd() *cobra.Command {
	var savePassword bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a hex private key",
		Long:  "Import a hex-encoded private key. The key is read from stdin without echo.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := keystoreDir(cmd)
			existing, err := identity.LoadWallet(dir)
			if err != nil {
				return fmt.Errorf("failed to check keystore: %w", err)
			}
			if existing != nil {
				return fmt.Errorf("key already exists at %s (address: %s)", dir, existing.Address().Hex())
			}

			fmt.Fprint(os.Stderr, "Private key (hex): ")
			input, err := readPasswordNoEcho()
			if err != nil {
				return fmt.Errorf("failed to read private key: %w", err)
			}
			fmt.Fprintln(os.Stderr)

			password, err := promptNewPassword()
			if err != nil {
				return err
			}
			var w *identity.Wallet
			err = WithSpinner("Encrypting keystore", func() error {
				w, err = identity.ImportWallet(dir, strings.TrimSpace(input), password)
				return err
			})
			if err != nil {
				return err
			}

			Success("Key imported")
			fmt.Println(KeyValue("Address", w.Address().Hex()))
			if savePassword {
				storePasswordInKeyring(w, password)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&savePassword, "save-password", true, "Save the password in the system keyring")
	return cmd
}

func newKeyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the signing address",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := keystoreDir(cmd)
			w, err := identity.LoadWallet(dir)
			if err != nil {
				return err
			}
			if w == nil {
				return fmt.Errorf("no key in %s (create one with: modl key create)", dir)
			}
			if jsonOutput() {
				return printJSON(map[string]string{"address": w.Address().Hex(), "keystore": dir})
			}
			fmt.Println(StatusBox("Signing key", [][2]string{
				{"Address", w.Address().Hex()},
				{"Keystore", dir},
			}))
			return nil
		},
	}
}

func newKeyForgetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget-password",
		Short: "Remove the saved keystore password",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := keystoreDir(cmd)
			w, err := identity.LoadWallet(dir)
			if err != nil {
				return err
			}
			if w == nil {
				return fmt.Errorf("no key in %s", dir)
			}
			if !identity.ForgetPassword(w.Address()) {
				Info("No saved password found")
				return nil
			}
			Success("Saved password removed")
			return nil
		},
	}
}

// readPasswordNoEcho reads a line from stdin with echo disabled.
func readPasswordNoEcho() (string, error) {
	password, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	return string(password), nil
}

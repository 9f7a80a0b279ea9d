package commands

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/client"
	"github.com/modlnet/modl/internal/identity"
	"github.com/modlnet/modl/internal/relayhub"
	"github.com/spf13/cobra"
)

// NewSendCmd creates the command that signs and relays a call.
func NewSendCmd() *cobra.Command {
	var (
		data         string
		gas          uint64
		value        string
		validUntil   int64
		privateKey   string
		keystore     string
		password     string
		passwordFile string
	)

	cmd := &cobra.Command{
		Use:   "send [to]",
		Short: "Sign and relay a call",
		Long: `Sign a call with your key and submit it to the node's relay worker.

The node's paymaster charges the relay to your MODL deposit. The signing
key comes from --private-key, MODL_PRIVATE_KEY or the keystore; the
keystore password from --password, --password-file, the system keyring or
an interactive prompt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			call := client.Call{
				To:             to,
				Data:           common.FromHex(data),
				Gas:            gas,
				ValidUntilTime: validUntil,
			}
			if value != "" {
				v, ok := new(big.Int).SetString(value, 10)
				if !ok || v.Sign() < 0 {
					return fmt.Errorf("invalid value %q", value)
				}
				call.Value = v
			}

			if keystore == "" {
				keystore = GetKeystoreDir()
			}
			signer, err := resolveSigner(privateKey, keystore, password, passwordFile)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()
			c := GetClient(client.WithAddress(signer.Address()))

			res, err := c.Send(ctx, signer, call)
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.RetryAfter != nil {
					return fmt.Errorf("%w (retry after %s)", err, apiErr.RetryAfter.Format("2006-01-02 15:04:05"))
				}
				return err
			}
			if jsonOutput() {
				return printJSON(res)
			}

			fields := [][2]string{
				{"From", signer.Address().Hex()},
				{"To", to.Hex()},
				{"Gas used", strconv.FormatUint(res.GasUsed, 10)},
				{"Inner gas", strconv.FormatUint(res.InnerGasUsed, 10)},
				{"Charge", FormatNative(res.Charge)},
			}
			if len(res.ReturnData) > 0 {
				fields = append(fields, [2]string{"Return", res.ReturnData.String()})
			}
			fmt.Println(StatusBox("Relayed "+StatusBadge(res.Status.String()), fields))
			if res.Status != relayhub.StatusOK && res.Reason != "" {
				Warning(res.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "Hex calldata for the target")
	cmd.Flags().Uint64Var(&gas, "gas", 100000, "Gas limit for the inner call")
	cmd.Flags().StringVar(&value, "value", "", "Native value in wei")
	cmd.Flags().Int64Var(&validUntil, "valid-until", 0, "Unix time after which the request expires (0 = never)")
	cmd.Flags().StringVar(&privateKey, "private-key", "", "Hex private key (overrides the keystore)")
	cmd.Flags().StringVar(&keystore, "keystore", "", "Keystore directory (default ~/.modl/keystore)")
	cmd.Flags().StringVar(&password, "password", "", "Keystore password")
	cmd.Flags().StringVar(&passwordFile, "password-file", "", "File holding the keystore password")
	return cmd
}

func resolveSigner(privateKey, keystore, password, passwordFile string) (*client.Signer, error) {
	if privateKey == "" {
		privateKey = os.Getenv("MODL_PRIVATE_KEY")
	}
	if privateKey != "" {
		return client.SignerFromHex(privateKey)
	}

	w, err := identity.LoadWallet(keystore)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("no key in %s (create one with: modl key create, or pass --private-key)", keystore)
	}

	pw, ok, err := identity.ResolvePassword(w.Address(), password, passwordFile)
	if err != nil {
		return nil, err
	}
	if !ok {
		fmt.Fprint(os.Stderr, "Keystore password: ")
		pw, err = readPasswordNoEcho()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
	}
	return client.SignerFromWallet(w, pw)
}

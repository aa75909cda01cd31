package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/majorcontext/sigchain/internal/keys"
	"github.com/majorcontext/sigchain/internal/log"
)

func newKeygenCmd(g *globals) *cobra.Command {
	var (
		outDir     string
		name       string
		useKeyring bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA signing key pair",
		Long: `Generate a 2048-bit RSA key pair for signing blocks.

The public key is always written to <out>/<name>.pub.pem so it can be shared
with verifiers. The private key is written to <out>/<name>.pem (mode 0600),
or with --keyring stored in the system keychain under <name>.

Examples:
  sigchain keygen --name alice
  sigchain keygen --name ci --keyring`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := keys.ValidateKeyName(name); err != nil {
				return err
			}
			if outDir == "" {
				outDir = g.cfg.KeysDir()
			}
			if err := os.MkdirAll(outDir, 0700); err != nil {
				return fmt.Errorf("creating key directory: %w", err)
			}

			km, err := keys.Generate()
			if err != nil {
				return err
			}

			pubPath := filepath.Join(outDir, name+".pub.pem")
			privPath := ""
			if useKeyring {
				if err := keys.NewKeystore(g.cfg.KeysDir()).Save(name, km); err != nil {
					return err
				}
			} else {
				privPath = filepath.Join(outDir, name+".pem")
				if _, err := os.Stat(privPath); err == nil {
					return fmt.Errorf("%w: %s", keys.ErrKeyExists, privPath)
				}
				if err := km.WritePrivateKey(privPath); err != nil {
					return fmt.Errorf("writing private key: %w", err)
				}
			}
			if err := km.WritePublicKey(pubPath); err != nil {
				return fmt.Errorf("writing public key: %w", err)
			}
			sshFP, err := km.SSHFingerprint()
			if err != nil {
				return err
			}
			log.Debug("generated key pair", "name", name, "fingerprint", km.PublicKeyHash())

			if g.jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{
					"name":        name,
					"fingerprint": km.PublicKeyHash(),
					"ssh":         sshFP,
					"public_key":  pubPath,
					"private_key": privPath,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Generated key %q\n", name)
			fmt.Fprintf(out, "  Fingerprint: %s\n", km.PublicKeyHash())
			fmt.Fprintf(out, "  SSH:         %s\n", sshFP)
			fmt.Fprintf(out, "  Public key:  %s\n", pubPath)
			if useKeyring {
				fmt.Fprintf(out, "  Private key: keystore entry %q\n", name)
			} else {
				fmt.Fprintf(out, "  Private key: %s\n", privPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory for key files (default <config-dir>/keys)")
	cmd.Flags().StringVarP(&name, "name", "n", "signer", "key name")
	cmd.Flags().BoolVar(&useKeyring, "keyring", false, "store the private key in the system keychain")
	return cmd
}

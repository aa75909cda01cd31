package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newAppendCmd(g *globals) *cobra.Command {
	var keyPath, keyringName string

	cmd := &cobra.Command{
		Use:   "append <data>",
		Short: "Sign and append a block",
		Long: `Append a block holding <data> to the chain. Use "-" to read data from stdin.

The block links to the current last block and is signed with the configured
signer key, or the one given by --key / --keyring-name.

Examples:
  sigchain append 'deployed v1.2.0'
  echo '{"event":"login"}' | sigchain append - --key ./alice.pem`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := args[0]
			if data == "-" {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				data = string(raw)
			}

			km, err := g.loadSigner(keyPath, keyringName)
			if err != nil {
				return err
			}

			store, err := g.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			c, err := store.Load()
			if err != nil {
				return fmt.Errorf("loading chain: %w", err)
			}
			block, err := c.AddBlock(data, km)
			if err != nil {
				return fmt.Errorf("creating block: %w", err)
			}
			if err := store.Append(block); err != nil {
				return fmt.Errorf("storing block: %w", err)
			}

			if g.jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(block)
			}
			m := block.Metadata()
			fmt.Fprintf(cmd.OutOrStdout(), "Appended block %d (hash %s, signer %s)\n",
				m.ID(), shortHash(m.Hash()), shortHash(m.HashKey()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "private key PEM file")
	cmd.Flags().StringVar(&keyringName, "keyring-name", "", "keystore entry holding the private key")
	return cmd
}

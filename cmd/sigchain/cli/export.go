package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/majorcontext/sigchain/internal/chain"
	"github.com/majorcontext/sigchain/internal/keys"
)

func newExportCmd(g *globals) *cobra.Command {
	var keyPaths []string

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export the chain as a proof bundle",
		Long: `Write the stored chain to a JSON proof bundle that can be verified
without the database.

Public keys given with --key, or the configured trusted keys, are embedded
in the bundle for convenience. Verifiers do not trust them unless asked to.

Example:
  sigchain export ./chain.proof.json --key alice.pub.pem`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signers, err := g.loadTrusted(keyPaths)
			if err != nil {
				return err
			}

			store, err := g.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			bundle, err := store.Export(signers...)
			if err != nil {
				return fmt.Errorf("exporting bundle: %w", err)
			}
			data, err := json.MarshalIndent(bundle, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling bundle: %w", err)
			}
			if err := os.WriteFile(args[0], data, 0644); err != nil {
				return fmt.Errorf("writing bundle: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Proof bundle exported to: %s (%d blocks)\n", args[0], len(bundle.Blocks))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&keyPaths, "key", "k", nil, "public key PEM file to embed (repeatable)")
	return cmd
}

func newVerifyBundleCmd(g *globals) *cobra.Command {
	var (
		trustPaths    []string
		trustEmbedded bool
	)

	cmd := &cobra.Command{
		Use:   "verify-bundle <file>",
		Short: "Verify a proof bundle file",
		Long: `Verify an exported proof bundle without the original database.

Keys embedded in the bundle are only trusted with --trust-embedded.

Example:
  sigchain verify-bundle ./chain.proof.json --trust alice.pub.pem`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading bundle: %w", err)
			}
			var bundle chain.ProofBundle
			if err := json.Unmarshal(data, &bundle); err != nil {
				return fmt.Errorf("parsing bundle: %w", err)
			}

			trusted, err := g.loadTrusted(trustPaths)
			if err != nil {
				return err
			}
			if trustEmbedded {
				embedded, err := bundle.EmbeddedKeys()
				if err != nil {
					return fmt.Errorf("reading embedded keys: %w", err)
				}
				trusted = append(trusted, embedded...)
			}

			result := bundle.Verify(keys.Verifiers(trusted...))

			if g.jsonOut {
				if err := json.NewEncoder(cmd.OutOrStdout()).Encode(result); err != nil {
					return err
				}
				return verdictErr(result)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Proof Bundle Verification")
			fmt.Fprintln(out, rule)
			fmt.Fprintf(out, "Bundle Version: %d\n", bundle.Version)
			fmt.Fprintf(out, "Created: %s\n", bundle.CreatedAt.Format("2006-01-02 15:04:05 UTC"))
			fmt.Fprintf(out, "Blocks: %d\n", result.BlockCount)
			fmt.Fprintf(out, "Embedded keys: %d\n", len(bundle.PublicKeys))
			return printResult(out, result)
		},
	}

	cmd.Flags().StringSliceVarP(&trustPaths, "trust", "t", nil, "trusted public key PEM file (repeatable)")
	cmd.Flags().BoolVar(&trustEmbedded, "trust-embedded", false, "also trust the public keys embedded in the bundle")
	return cmd
}

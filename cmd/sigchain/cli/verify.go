package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/majorcontext/sigchain/internal/chain"
	"github.com/majorcontext/sigchain/internal/keys"
)

func newVerifyCmd(g *globals) *cobra.Command {
	var trustPaths []string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the integrity of the chain",
		Long: `Verify the stored chain.

Checks:
  - Links: block ids are sequential and each block names its predecessor's hash
  - Hashes: each payload matches the hash recorded when the block was created
  - Signatures: each block was signed by at least one trusted key

Trusted keys come from --trust or the trusted_keys config setting. With no
trusted keys, signatures are not checked.

Signatures cover block metadata only. A valid verdict does not prove that
the payload of the newest block is the one its signer wrote.

Example:
  sigchain verify --trust alice.pub.pem --trust bob.pub.pem`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			trusted, err := g.loadTrusted(trustPaths)
			if err != nil {
				return err
			}

			if _, statErr := os.Stat(g.cfg.Database); os.IsNotExist(statErr) {
				return fmt.Errorf("no chain found at %s", g.cfg.Database)
			}

			auditor, err := chain.NewAuditor(g.cfg.Database)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer auditor.Close()

			result, err := auditor.Verify(keys.Verifiers(trusted...))
			if err != nil {
				return fmt.Errorf("verification error: %w", err)
			}

			if g.jsonOut {
				if err := json.NewEncoder(cmd.OutOrStdout()).Encode(result); err != nil {
					return err
				}
				return verdictErr(result)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Verifying chain: %s\n", g.cfg.Database)
			return printResult(out, result)
		},
	}

	cmd.Flags().StringSliceVarP(&trustPaths, "trust", "t", nil, "trusted public key PEM file (repeatable)")
	return cmd
}

const rule = "==============================================================="

// printResult writes the human-readable report and returns an error when
// the chain did not verify.
func printResult(out io.Writer, result *chain.Result) error {
	fmt.Fprintln(out, rule)
	fmt.Fprintln(out)

	if result.Rejected {
		fmt.Fprintln(out, "Bundle Format")
		fmt.Fprintf(out, "  [FAIL] %s\n", result.Error)
		fmt.Fprintln(out)
		fmt.Fprintln(out, rule)
		fmt.Fprintf(out, "VERDICT: [FAIL] REJECTED - %s\n", result.Error)
		return fmt.Errorf("bundle rejected: %s", result.Error)
	}

	fmt.Fprintln(out, "Chain Integrity")
	if result.LinksValid {
		fmt.Fprintf(out, "  [ok] Links: %d blocks, no gaps\n", result.BlockCount)
	} else {
		fmt.Fprintln(out, "  [FAIL] Links: INVALID")
	}
	switch {
	case !result.LinksValid:
		fmt.Fprintln(out, "  - Hashes: not checked")
	case result.HashesValid:
		fmt.Fprintln(out, "  [ok] Hashes: all payloads match")
	default:
		fmt.Fprintln(out, "  [FAIL] Hashes: INVALID")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Signatures")
	switch {
	case !result.SignaturesChecked:
		fmt.Fprintln(out, "  - No trusted keys; signatures not checked")
	case !result.LinksValid || !result.HashesValid:
		fmt.Fprintf(out, "  - %d trusted keys; not checked\n", result.TrustedKeyCount)
	case result.SignaturesValid:
		fmt.Fprintf(out, "  [ok] All blocks signed by one of %d trusted keys\n", result.TrustedKeyCount)
	default:
		fmt.Fprintln(out, "  [FAIL] Signatures: INVALID")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, rule)

	if result.Valid {
		fmt.Fprintln(out, "VERDICT: [ok] INTACT - No tampering detected")
		return nil
	}
	fmt.Fprintf(out, "VERDICT: [FAIL] TAMPERED - %s\n", result.Error)
	return verdictErr(result)
}

// verdictErr makes a failed verification exit non-zero.
func verdictErr(result *chain.Result) error {
	if result.Valid {
		return nil
	}
	return fmt.Errorf("tampering detected")
}

// Package cli implements the sigchain command-line interface using Cobra.
package cli

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/majorcontext/sigchain/internal/config"
	"github.com/majorcontext/sigchain/internal/log"
)

// globals holds the persistent flags and the config they resolve to.
type globals struct {
	verbose   bool
	jsonOut   bool
	configDir string

	cfg *config.GlobalConfig
}

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "sigchain",
		Short: "Sigchain - signed, hash-linked block chains",
		Long: `Sigchain keeps an append-only chain of blocks. Each block records the hash
of the previous block and is signed with its author's RSA key.

Verification has two independent passes: signatures are checked against a
set of trusted public keys, and payloads are checked against the hash
recorded when each block was created.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir := g.configDir
			if dir == "" {
				dir = config.GlobalConfigDir()
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			g.cfg = cfg

			if err := log.Init(log.Options{
				Verbose:       g.verbose,
				JSONFormat:    g.jsonOut,
				Interactive:   isatty.IsTerminal(os.Stdout.Fd()),
				DebugDir:      cfg.DebugDir(),
				RetentionDays: cfg.Debug.RetentionDays,
				Stderr:        cmd.ErrOrStderr(),
			}); err != nil {
				// Debug logging is optional; keep going with the default logger.
				cmd.PrintErrf("Warning: failed to initialize debug logging: %v\n", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&g.configDir, "config-dir", "", "config directory (env: SIGCHAIN_DIR, default ~/.sigchain)")

	rootCmd.AddCommand(
		newKeygenCmd(g),
		newAppendCmd(g),
		newShowCmd(g),
		newVerifyCmd(g),
		newExportCmd(g),
		newVerifyBundleCmd(g),
	)
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

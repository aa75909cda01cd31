package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List the blocks in the chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := g.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			c, err := store.Load()
			if err != nil {
				return fmt.Errorf("loading chain: %w", err)
			}

			if g.jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(c.Blocks())
			}
			if c.Len() == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No blocks.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDATE\tHASH\tPREVIOUS\tSIGNER\tDATA")
			for _, b := range c.Blocks() {
				m := b.Metadata()
				date := time.Unix(int64(m.Date()), 0).UTC().Format(time.RFC3339)
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					m.ID(), date, shortHash(m.Hash()), shortHash(m.PreviousHash()),
					shortHash(m.HashKey()), preview(b.Data()))
			}
			return w.Flush()
		},
	}
}

// preview shortens data to a single display line.
func preview(data string) string {
	data = strings.ReplaceAll(data, "\n", `\n`)
	if len(data) > 40 {
		return data[:37] + "..."
	}
	return data
}

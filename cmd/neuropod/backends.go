package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/neuropod-go/neuropod/backend"
)

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the registered backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := newTable(cmd.OutOrStdout(), "NAME", "VERSION", "PLATFORMS")
			for _, r := range backend.Registrations() {
				table.Append([]string{r.Name, r.Version, strings.Join(r.Platforms, ", ")})
			}
			table.Render()
			return nil
		},
	}
}

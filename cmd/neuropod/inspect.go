package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neuropod-go/neuropod/internal/backend"
	"github.com/neuropod-go/neuropod/internal/manifest"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect PATH",
		Short: "Show the metadata and tensor specs of a model package",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectHandler,
	}
	cmd.Flags().String("backend", "", "Backend to resolve instead of the one registered for the platform")
	return cmd
}

// inspectHandler reads the package without loading the model.
func inspectHandler(cmd *cobra.Command, args []string) error {
	pkg, err := manifest.Open(args[0])
	if err != nil {
		return err
	}
	defer pkg.Close()

	name, _ := cmd.Flags().GetString("backend")
	engine := "none"
	r, err := backend.Resolve(pkg, name)
	switch {
	case err == nil:
		engine = fmt.Sprintf("%s %s", r.Name, r.Version)
	case name != "" || !errors.Is(err, backend.ErrUnknownBackend):
		return err
	}

	size, err := pkg.Size()
	if err != nil {
		return err
	}

	m := pkg.Manifest
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Name:       %s\n", m.Name)
	fmt.Fprintf(w, "Platform:   %s\n", m.Platform)
	if m.PlatformVersion != "" {
		fmt.Fprintf(w, "Requires:   %s\n", m.PlatformVersion)
	}
	fmt.Fprintf(w, "Backend:    %s\n", engine)
	fmt.Fprintf(w, "Size:       %s\n\n", humanize.Bytes(uint64(size)))

	table := newTable(w, "KIND", "NAME", "TYPE", "SHAPE")
	table.AppendBulk(specRows("input", m.InputSpecs()))
	table.AppendBulk(specRows("output", m.OutputSpecs()))
	table.Render()
	return nil
}

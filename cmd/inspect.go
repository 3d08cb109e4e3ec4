package cmd

import (
	"fmt"
	"os"

	"github.com/djcass44/all-your-debs/pkg/debian"
	"github.com/djcass44/all-your-debs/pkg/index"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [file]",
	Short: "print the index entry of a .deb file",
	Args:  cobra.ExactArgs(1),
	RunE:  inspect,
}

const (
	flagComponent    = "component"
	flagDistribution = "distribution"
)

func init() {
	inspectCmd.Flags().String(flagDistribution, "stable", "distribution used to compute the pool path")
	inspectCmd.Flags().String(flagComponent, "main", "component used to compute the pool path")
}

func inspect(cmd *cobra.Command, args []string) error {
	distribution, _ := cmd.Flags().GetString(flagDistribution)
	component, _ := cmd.Flags().GetString(flagComponent)

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	out, err := debian.Inspect(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", args[0], err)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), index.Augment(out.Control, distribution, component, out.Checksums).String())
	return err
}

package cmd

import (
	"fmt"

	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "synchronise every source once",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().StringP(flagConfig, "c", "", "path to a repository configuration file")

	_ = syncCmd.MarkFlagRequired(flagConfig)
	_ = syncCmd.MarkFlagFilename(flagConfig, ".yaml", ".yml")
}

func runSync(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString(flagConfig)

	cfg, err := v1.ReadFile(configPath)
	if err != nil {
		return err
	}
	repo, err := newRepository(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	if _, err := repo.engine.Prune(cmd.Context()); err != nil {
		return err
	}
	report, err := repo.engine.Run(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, sr := range report.Sources {
		_, _ = fmt.Fprintf(out, "%s\tlisted=%d registered=%d refreshed=%d failed=%d\n", sr.SourceID, sr.Listed, sr.Registered, sr.Refreshed, sr.Failed)
	}
	for _, e := range report.Errors {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), e)
	}
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("run %s finished with %d errors", report.RunID, n)
	}
	return nil
}

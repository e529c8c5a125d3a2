package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/auction-intake/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "auction-intake",
	Short: "Vehicle auction invoice intake pipeline",
	Long:  "Reads auction invoices (Copart, IAA, Manheim), extracts vehicle and pickup details, and posts transport orders. Reviewer corrections feed back into learned extraction rules.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

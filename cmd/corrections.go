package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/auction-intake/internal/sheets"
)

var correctionsCmd = &cobra.Command{
	Use:   "corrections",
	Short: "Manage reviewer corrections",
}

var (
	correctionsFile      string
	correctionsValidated bool
)

var correctionsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import reviewer corrections from an XLSX review sheet",
	Long:  "Reads run_id, field_key, predicted_value and corrected_value columns and submits each run's rows as one correction batch.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		rows, skipped, err := sheets.ReadReviewSheet(correctionsFile)
		if err != nil {
			return eris.Wrap(err, "read review sheet")
		}

		st, svc, _, err := openLearning(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sum, err := sheets.ImportCorrections(ctx, svc, rows, correctionsValidated)
		if err != nil {
			return err
		}

		zap.L().Info("corrections imported",
			zap.String("file", correctionsFile),
			zap.Int("runs", sum.Runs),
			zap.Int("saved", sum.Saved),
			zap.Int("errors", sum.Errors),
			zap.Int("skipped_rows", skipped),
		)
		return writeJSON(os.Stdout, map[string]int{
			"runs":         sum.Runs,
			"saved":        sum.Saved,
			"errors":       sum.Errors,
			"skipped_rows": skipped,
		})
	},
}

func init() {
	correctionsImportCmd.Flags().StringVar(&correctionsFile, "file", "", "path to the review XLSX (required)")
	correctionsImportCmd.Flags().BoolVar(&correctionsValidated, "validated", false, "mark the resulting training examples as validated")
	_ = correctionsImportCmd.MarkFlagRequired("file")

	correctionsCmd.AddCommand(correctionsImportCmd)
	rootCmd.AddCommand(correctionsCmd)
}

package main

import (
	"bufio"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/auction-intake/internal/model"
	"github.com/sells-group/auction-intake/internal/sheets"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export learning data",
}

var (
	exportFormat string
	exportSplit  string
	exportOut    string
)

var exportTrainingCmd = &cobra.Command{
	Use:   "training",
	Short: "Export a format's training examples to XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		split := model.DatasetSplit(exportSplit)
		switch split {
		case "", model.SplitTrain, model.SplitTest, model.SplitValidation:
		default:
			return eris.Errorf("unknown split %q (train, test, validation)", exportSplit)
		}

		st, _, catalog, err := openLearning(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := resolveFormat(catalog, exportFormat)
		if err != nil {
			return err
		}
		examples, err := st.ListTrainingExamples(ctx, p.ID, split)
		if err != nil {
			return eris.Wrap(err, "list training examples")
		}

		f, err := os.Create(exportOut)
		if err != nil {
			return eris.Wrapf(err, "create %s", exportOut)
		}
		bw := bufio.NewWriter(f)
		if err := sheets.WriteTrainingExamples(bw, examples); err != nil {
			_ = f.Close()
			return err
		}
		if err := bw.Flush(); err != nil {
			_ = f.Close()
			return eris.Wrapf(err, "write %s", exportOut)
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "close %s", exportOut)
		}

		zap.L().Info("training examples exported",
			zap.String("format", p.Code),
			zap.String("split", exportSplit),
			zap.Int("examples", len(examples)),
			zap.String("out", exportOut),
		)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import learning data",
}

var importTrainingFile string

var importTrainingCmd = &cobra.Command{
	Use:   "training",
	Short: "Import training examples from an XLSX export",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		examples, err := sheets.ReadTrainingExamples(importTrainingFile)
		if err != nil {
			return eris.Wrap(err, "read training workbook")
		}

		st, _, catalog, err := openLearning(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, ex := range examples {
			if _, ok := catalog.ByID(ex.FormatID); !ok {
				return eris.Errorf("training example references unknown format %d", ex.FormatID)
			}
		}

		n, err := st.ImportTrainingExamples(ctx, examples)
		if err != nil {
			return eris.Wrap(err, "import training examples")
		}
		zap.L().Info("training examples imported", zap.Int64("count", n), zap.String("file", importTrainingFile))
		return nil
	},
}

func init() {
	exportTrainingCmd.Flags().StringVar(&exportFormat, "format", "", "format code or id (required)")
	exportTrainingCmd.Flags().StringVar(&exportSplit, "split", "", "dataset split (train, test, validation; default all)")
	exportTrainingCmd.Flags().StringVar(&exportOut, "out", "training.xlsx", "output XLSX path")
	_ = exportTrainingCmd.MarkFlagRequired("format")
	exportCmd.AddCommand(exportTrainingCmd)
	rootCmd.AddCommand(exportCmd)

	importTrainingCmd.Flags().StringVar(&importTrainingFile, "file", "", "path to the training XLSX (required)")
	_ = importTrainingCmd.MarkFlagRequired("file")
	importCmd.AddCommand(importTrainingCmd)
	rootCmd.AddCommand(importCmd)
}

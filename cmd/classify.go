package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/auction-intake/internal/classify"
	"github.com/sells-group/auction-intake/internal/extract"
	"github.com/sells-group/auction-intake/internal/formats"
	"github.com/sells-group/auction-intake/internal/model"
	"github.com/sells-group/auction-intake/internal/ocr"
	"github.com/sells-group/auction-intake/internal/quality"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <file>",
	Short: "Identify the auction format of a document and grade its text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := formats.Load(cfg.Formats.ProfilesPath)
		if err != nil {
			return eris.Wrap(err, "load format catalog")
		}
		src, err := ocr.NewNative(cfg.Text)
		if err != nil {
			return eris.Wrap(err, "init native text provider")
		}

		engine := newEngine(catalog, extract.NewTextCache(src, 1))
		res, err := engine.ClassifyFile(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "classify")
		}
		return writeClassification(os.Stdout, args[0], res)
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func newEngine(catalog *formats.Catalog, text *extract.TextCache) *classify.Engine {
	scorers := make([]classify.Scorer, 0, len(catalog.Formats))
	for _, p := range catalog.Formats {
		scorers = append(scorers, p)
	}
	return classify.NewEngine(text, scorers...)
}

type classification struct {
	Path            string                   `json:"path"`
	Source          model.Source             `json:"source"`
	Score           float64                  `json:"score"`
	MatchedPatterns []string                 `json:"matched_patterns"`
	Classified      bool                     `json:"classified"`
	Quality         model.TextQualityMetrics `json:"quality"`
}

func writeClassification(out io.Writer, path string, res classify.Result) error {
	return writeJSON(out, classification{
		Path:            path,
		Source:          res.Source,
		Score:           res.Score,
		MatchedPatterns: res.MatchedPatterns,
		Classified:      res.Classified(),
		Quality:         quality.Analyze(res.RawText),
	})
}

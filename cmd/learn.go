package main

import (
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/auction-intake/internal/formats"
)

var learnFormat string

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Fold unprocessed corrections of a format into its learned rules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, svc, catalog, err := openLearning(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := resolveFormat(catalog, learnFormat)
		if err != nil {
			return err
		}
		summary, err := svc.Learn(ctx, p.ID)
		if err != nil {
			return eris.Wrap(err, "learn")
		}
		return writeJSON(os.Stdout, summary)
	},
}

var statsFormat string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show learning statistics and active rules of a format",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, svc, catalog, err := openLearning(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := resolveFormat(catalog, statsFormat)
		if err != nil {
			return err
		}
		stats, err := svc.Stats(ctx, p.ID)
		if err != nil {
			return eris.Wrap(err, "stats")
		}
		rules, err := svc.Rules(ctx, p.ID)
		if err != nil {
			return eris.Wrap(err, "stats")
		}
		return writeJSON(os.Stdout, map[string]any{
			"format": p.Code,
			"stats":  stats,
			"rules":  rules,
		})
	},
}

func init() {
	learnCmd.Flags().StringVar(&learnFormat, "format", "", "format code or id (required)")
	_ = learnCmd.MarkFlagRequired("format")
	statsCmd.Flags().StringVar(&statsFormat, "format", "", "format code or id (required)")
	_ = statsCmd.MarkFlagRequired("format")
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(statsCmd)
}

// resolveFormat accepts a format code (case-insensitive) or numeric id.
func resolveFormat(catalog *formats.Catalog, raw string) (*formats.Profile, error) {
	raw = strings.TrimSpace(raw)
	if id, err := strconv.Atoi(raw); err == nil {
		if p, ok := catalog.ByID(id); ok {
			return p, nil
		}
	} else if p, ok := catalog.ByCode(raw); ok {
		return p, nil
	}
	return nil, eris.Errorf("unknown format %q", raw)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"text/tabwriter"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/auction-intake/internal/store"
)

var ingestConcurrency int

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Register invoice documents and create a pending run for each",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		results, err := ingestFiles(ctx, st, args, ingestConcurrency)
		formatIngested(os.Stdout, results)
		return err
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", 4, "files registered in parallel")
	rootCmd.AddCommand(ingestCmd)
}

// ingested is the outcome of registering one file.
type ingested struct {
	Path       string
	DocumentID int64
	RunID      int64
	Pages      int
	Err        error
}

// ingestFiles registers every path as a document with one pending run. A
// failing file does not stop the others; the returned error counts failures.
func ingestFiles(ctx context.Context, st store.Store, paths []string, concurrency int) ([]ingested, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]ingested, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var failed atomic.Int64
	for i, path := range paths {
		g.Go(func() error {
			res := ingestFile(gctx, st, path)
			if res.Err != nil {
				failed.Add(1)
				zap.L().Error("ingest failed", zap.String("path", path), zap.Error(res.Err))
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("ingest complete",
		zap.Int("files", len(paths)),
		zap.Int64("failed", failed.Load()),
	)
	if n := failed.Load(); n > 0 {
		return results, eris.Errorf("ingest: %d of %d files failed", n, len(paths))
	}
	return results, nil
}

func ingestFile(ctx context.Context, st store.Store, path string) ingested {
	res := ingested{Path: path}
	abs, err := filepath.Abs(path)
	if err != nil {
		res.Err = eris.Wrapf(err, "ingest: resolve %s", path)
		return res
	}
	res.Path = abs
	info, err := os.Stat(abs)
	if err != nil {
		res.Err = eris.Wrapf(err, "ingest: stat %s", abs)
		return res
	}
	if info.IsDir() {
		res.Err = eris.Errorf("ingest: %s is a directory", abs)
		return res
	}

	res.Pages = pageCount(abs)
	doc, err := st.CreateDocument(ctx, abs, res.Pages)
	if err != nil {
		res.Err = eris.Wrap(err, "ingest: create document")
		return res
	}
	res.DocumentID = doc.ID

	run, err := st.CreateRun(ctx, doc.ID)
	if err != nil {
		res.Err = eris.Wrap(err, "ingest: create run")
		return res
	}
	res.RunID = run.ID
	return res
}

// pageCount reads the page count of a PDF. Other files, and PDFs pdfcpu
// cannot parse, count as zero pages.
func pageCount(path string) int {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return 0
	}
	n, err := api.PageCountFile(path)
	if err != nil {
		zap.L().Warn("failed to read pdf page count", zap.String("path", path), zap.Error(err))
		return 0
	}
	return n
}

func formatIngested(out io.Writer, results []ingested) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tDOCUMENT\tPAGES\tPATH\tERROR")
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\n", r.RunID, r.DocumentID, r.Pages, r.Path, errText)
	}
	_ = w.Flush()
}

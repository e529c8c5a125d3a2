package sheets

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/auction-intake/internal/learning"
)

// ReviewSheet is the preferred sheet name of a review workbook. Workbooks
// without it are read from their first sheet.
const ReviewSheet = "review"

// ReviewRow is one reviewer correction.
type ReviewRow struct {
	Line           int
	RunID          int64
	FieldKey       string
	PredictedValue string
	CorrectedValue string
}

// ReadReviewSheet parses a review workbook with run_id, field_key,
// corrected_value and an optional predicted_value column. Rows without a run
// id or corrected value are skipped and counted.
func ReadReviewSheet(path string) (rows []ReviewRow, skipped int, err error) {
	raw, err := readSheet(path, ReviewSheet)
	if err != nil {
		return nil, 0, err
	}
	if len(raw) == 0 {
		return nil, 0, eris.New("sheets: review workbook is empty")
	}
	cols := headerColumns(raw[0])
	if err := cols.require("run_id", "field_key", "corrected_value"); err != nil {
		return nil, 0, err
	}

	for i, r := range raw[1:] {
		if blank(r) {
			continue
		}
		line := i + 2
		runID, perr := parseInt(cols.get(r, "run_id"))
		row := ReviewRow{
			Line:           line,
			RunID:          runID,
			FieldKey:       cols.get(r, "field_key"),
			PredictedValue: cols.get(r, "predicted_value"),
			CorrectedValue: cols.get(r, "corrected_value"),
		}
		if perr != nil || runID <= 0 || row.FieldKey == "" || row.CorrectedValue == "" {
			zap.L().Warn("sheets: review row skipped", zap.String("path", path), zap.Int("line", line))
			skipped++
			continue
		}
		rows = append(rows, row)
	}
	return rows, skipped, nil
}

// CorrectionSubmitter records a batch of corrections for one run.
type CorrectionSubmitter interface {
	SubmitCorrections(ctx context.Context, runID int64, corrections []learning.Correction, markValidated bool) (saved, errCount int)
}

// ImportSummary reports a review import.
type ImportSummary struct {
	Runs   int `json:"runs"`
	Saved  int `json:"saved"`
	Errors int `json:"errors"`
}

// ImportCorrections groups rows by run, in first-seen order, and submits each
// group as one batch.
func ImportCorrections(ctx context.Context, sub CorrectionSubmitter, rows []ReviewRow, markValidated bool) (ImportSummary, error) {
	var order []int64
	byRun := map[int64][]learning.Correction{}
	for _, r := range rows {
		if _, ok := byRun[r.RunID]; !ok {
			order = append(order, r.RunID)
		}
		byRun[r.RunID] = append(byRun[r.RunID], learning.Correction{
			FieldKey:       r.FieldKey,
			PredictedValue: r.PredictedValue,
			CorrectedValue: r.CorrectedValue,
		})
	}

	var sum ImportSummary
	for _, runID := range order {
		if err := ctx.Err(); err != nil {
			return sum, eris.Wrap(err, "sheets: import interrupted")
		}
		saved, errs := sub.SubmitCorrections(ctx, runID, byRun[runID], markValidated)
		sum.Runs++
		sum.Saved += saved
		sum.Errors += errs
	}
	return sum, nil
}

package sheets

import (
	"encoding/json"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/auction-intake/internal/learning"
	"github.com/sells-group/auction-intake/internal/model"
)

// TrainingSheet is the sheet name used for training example workbooks.
const TrainingSheet = "training"

// maxCellRunes is the XLSX per-cell character limit.
const maxCellRunes = 32767

var trainingHeader = []string{
	"id", "format_id", "document_id", "dataset_split", "is_validated",
	"quality_score", "corrected_fields", "raw_text",
}

// WriteTrainingExamples writes examples as a single-sheet workbook. Raw text
// longer than a cell can hold is truncated.
func WriteTrainingExamples(w io.Writer, examples []model.TrainingExample) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(TrainingSheet)
	if err != nil {
		return eris.Wrap(err, "sheets: add training sheet")
	}

	addRow(sheet, trainingHeader...)
	for _, ex := range examples {
		fields, err := json.Marshal(ex.CorrectedFields)
		if err != nil {
			return eris.Wrapf(err, "sheets: marshal fields of example %d", ex.ID)
		}
		addRow(sheet,
			strconv.FormatInt(ex.ID, 10),
			strconv.Itoa(ex.FormatID),
			strconv.FormatInt(ex.DocumentID, 10),
			string(ex.DatasetSplit),
			strconv.FormatBool(ex.IsValidated),
			strconv.FormatFloat(ex.QualityScore, 'f', 4, 64),
			string(fields),
			truncate(ex.RawText, maxCellRunes),
		)
	}

	return eris.Wrap(f.Write(w), "sheets: write training workbook")
}

// ReadTrainingExamples parses a workbook in the WriteTrainingExamples layout.
// The id column is ignored. A missing split is derived from the document id.
func ReadTrainingExamples(path string) ([]model.TrainingExample, error) {
	rows, err := readSheet(path, TrainingSheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.New("sheets: training workbook is empty")
	}
	cols := headerColumns(rows[0])
	if err := cols.require("format_id", "document_id", "corrected_fields"); err != nil {
		return nil, err
	}

	var out []model.TrainingExample
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		line := i + 2
		ex, err := trainingRow(cols, row)
		if err != nil {
			return nil, eris.Wrapf(err, "sheets: row %d", line)
		}
		out = append(out, ex)
	}
	return out, nil
}

func trainingRow(cols columns, row []string) (model.TrainingExample, error) {
	var ex model.TrainingExample

	formatID, err := parseInt(cols.get(row, "format_id"))
	if err != nil || formatID <= 0 {
		return ex, eris.Errorf("invalid format_id %q", cols.get(row, "format_id"))
	}
	docID, err := parseInt(cols.get(row, "document_id"))
	if err != nil {
		return ex, eris.Errorf("invalid document_id %q", cols.get(row, "document_id"))
	}
	fields := map[string]string{}
	if raw := cols.get(row, "corrected_fields"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return ex, eris.Wrap(err, "invalid corrected_fields")
		}
	}

	ex = model.TrainingExample{
		FormatID:        int(formatID),
		DocumentID:      docID,
		CorrectedFields: fields,
		RawText:         cols.get(row, "raw_text"),
		DatasetSplit:    model.DatasetSplit(cols.get(row, "dataset_split")),
	}
	if v := cols.get(row, "quality_score"); v != "" {
		if ex.QualityScore, err = strconv.ParseFloat(v, 64); err != nil {
			return ex, eris.Errorf("invalid quality_score %q", v)
		}
	}
	if v := cols.get(row, "is_validated"); v != "" {
		if ex.IsValidated, err = strconv.ParseBool(v); err != nil {
			return ex, eris.Errorf("invalid is_validated %q", v)
		}
	}
	switch ex.DatasetSplit {
	case model.SplitTrain, model.SplitTest, model.SplitValidation:
	case "":
		ex.DatasetSplit = learning.SplitFor(docID)
	default:
		return ex, eris.Errorf("invalid dataset_split %q", ex.DatasetSplit)
	}
	return ex, nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// parseInt accepts integers that a spreadsheet may have stored as floats.
func parseInt(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, eris.Errorf("not an integer: %q", s)
	}
	return int64(f), nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

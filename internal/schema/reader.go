package schema

import (
	"bufio"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/campaignfin/internal/model"
)

// Delimiter separates fields in bulk files.
const Delimiter = "|"

const maxQuarantineSamples = 1000

// Row is one typed record. Accessors take canonical column names.
type Row struct {
	Line   int
	layout *Layout
	fields []string
	values []any
}

// Str returns the trimmed text of a column, or "" if the layout lacks it.
func (r *Row) Str(col string) string {
	i := r.layout.Index(col)
	if i < 0 {
		return ""
	}
	return r.fields[i]
}

// Decimal returns a decimal column. Blank values are zero.
func (r *Row) Decimal(col string) decimal.Decimal {
	if v, ok := r.value(col).(decimal.Decimal); ok {
		return v
	}
	return decimal.Zero
}

// Date returns a date column. Blank values are the zero time.
func (r *Row) Date(col string) time.Time {
	if v, ok := r.value(col).(time.Time); ok {
		return v
	}
	return time.Time{}
}

// Int returns an int or year column. Blank values are zero.
func (r *Row) Int(col string) int64 {
	if v, ok := r.value(col).(int64); ok {
		return v
	}
	return 0
}

// Raw rejoins the record as it appeared in the file.
func (r *Row) Raw() string {
	return strings.Join(r.fields, Delimiter)
}

func (r *Row) value(col string) any {
	i := r.layout.Index(col)
	if i < 0 {
		return nil
	}
	return r.values[i]
}

// Report summarizes a read: counts are exact, samples are capped.
type Report struct {
	Table       string                           `json:"table"`
	Version     string                           `json:"version"`
	Rows        int64                            `json:"rows"`
	Quarantined int64                            `json:"quarantined"`
	ByReason    map[model.QuarantineReason]int64 `json:"by_reason"`
	Samples     []model.Quarantine               `json:"samples,omitempty"`
}

func newReport(l *Layout) *Report {
	return &Report{Table: l.Table, Version: l.Version, ByReason: map[model.QuarantineReason]int64{}}
}

// Record adds a quarantined row to the report.
func (rep *Report) Record(q model.Quarantine) {
	rep.Quarantined++
	rep.ByReason[q.Reason]++
	if len(rep.Samples) < maxQuarantineSamples {
		rep.Samples = append(rep.Samples, q)
	}
}

// Merge folds another report into rep.
func (rep *Report) Merge(o *Report) {
	rep.Rows += o.Rows
	for _, q := range o.Samples {
		if len(rep.Samples) < maxQuarantineSamples {
			rep.Samples = append(rep.Samples, q)
		}
	}
	for k, v := range o.ByReason {
		rep.ByReason[k] += v
	}
	rep.Quarantined += o.Quarantined
}

// Reader yields typed rows from one pipe-delimited file. Malformed rows
// are recorded in the report and skipped; they never stop the read.
type Reader struct {
	layout *Layout
	br     *bufio.Reader
	line   int
	report *Report
}

// NewReader wraps r. The layout comes from Registry.Resolve or Latest.
func NewReader(layout *Layout, r io.Reader) *Reader {
	return &Reader{
		layout: layout,
		br:     bufio.NewReaderSize(r, 1<<16),
		report: newReport(layout),
	}
}

// Report returns the running report.
func (r *Reader) Report() *Report {
	return r.report
}

// Next returns the next well-formed row, or io.EOF.
func (r *Reader) Next() (*Row, error) {
	for {
		text, err := r.br.ReadString('\n')
		if text == "" && err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, eris.Wrapf(err, "schema: read %s", r.layout.Table)
		}
		r.line++

		text = strings.TrimRight(text, "\r\n")
		if strings.TrimSpace(text) == "" {
			continue
		}

		row, perr := r.parse(text)
		if perr != nil {
			r.report.Record(model.QuarantineFrom(perr, text))
			continue
		}
		r.report.Rows++
		return row, nil
	}
}

func (r *Reader) parse(text string) (*Row, *model.ParseError) {
	l := r.layout
	if !utf8.ValidString(text) || strings.ContainsRune(text, 0) {
		return nil, &model.ParseError{Table: l.Table, Line: r.line, Reason: model.ReasonEncoding, Detail: "invalid UTF-8 or NUL byte"}
	}

	fields := strings.Split(text, Delimiter)
	if len(fields) != len(l.Columns) {
		return nil, &model.ParseError{
			Table: l.Table, Line: r.line, Reason: model.ReasonFieldCount,
			Detail: eris.Errorf("expected %d fields, got %d", len(l.Columns), len(fields)).Error(),
		}
	}

	values := make([]any, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		fields[i] = f
		if f == "" || l.Types[i] == TypeString {
			continue
		}
		v, err := coerce(l.Types[i], f)
		if err != nil {
			return nil, &model.ParseError{
				Table: l.Table, Line: r.line, Field: l.Columns[i],
				Reason: model.ReasonTypeCoercion, Detail: err.Error(),
			}
		}
		values[i] = v
	}

	return &Row{Line: r.line, layout: l, fields: fields, values: values}, nil
}

// ReadAll drains a reader.
func ReadAll(layout *Layout, rd io.Reader) ([]*Row, *Report, error) {
	r := NewReader(layout, rd)
	var rows []*Row
	for {
		row, err := r.Next()
		if err == io.EOF {
			return rows, r.Report(), nil
		}
		if err != nil {
			return rows, r.Report(), err
		}
		rows = append(rows, row)
	}
}

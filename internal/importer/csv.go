package importer

import (
	"bufio"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/geodata-tw/doorplate/internal/model"
)

// Source-locale header names. Column order in the file is not
// significant; only the presence of the required columns is.
var columnNames = map[string]string{
	"區":    "district",
	"村里":   "village",
	"鄰":    "neighborhood",
	"街、路段": "street",
	"地區":   "area",
	"巷":    "lane",
	"弄":    "alley",
	"號":    "number",
	"橫座標":  "easting",
	"縱座標":  "northing",
}

// requiredColumns must all be present in the header row.
var requiredColumns = []string{"district", "village", "neighborhood", "easting", "northing"}

// RecordReader streams RawRecords from a door-number CSV file without
// loading the whole file into memory.
type RecordReader struct {
	r    *csv.Reader
	cols map[string]int // canonical field name -> column index
	line int
}

// NewRecordReader reads and validates the header row and returns a
// reader positioned at the first data row.
func NewRecordReader(r io.Reader) (*RecordReader, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1 // ragged rows are handled per record
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "importer: read CSV header")
	}

	cols := make(map[string]int, len(columnNames))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		if name, ok := columnNames[h]; ok {
			cols[name] = i
		}
	}

	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("importer: CSV header missing required columns: %s", strings.Join(missing, ", "))
	}

	return &RecordReader{r: cr, cols: cols, line: 1}, nil
}

// Next returns the next raw record, or io.EOF when the file is
// exhausted.
func (rr *RecordReader) Next() (model.RawRecord, error) {
	row, err := rr.r.Read()
	if err == io.EOF {
		return model.RawRecord{}, io.EOF
	}
	if err != nil {
		return model.RawRecord{}, eris.Wrapf(err, "importer: read CSV row %d", rr.line+1)
	}
	rr.line++

	field := func(name string) string {
		i, ok := rr.cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	return model.RawRecord{
		District:     field("district"),
		Village:      field("village"),
		Neighborhood: field("neighborhood"),
		Street:       field("street"),
		Area:         field("area"),
		Lane:         field("lane"),
		Alley:        field("alley"),
		Number:       field("number"),
		Easting:      field("easting"),
		Northing:     field("northing"),
		Line:         rr.line,
	}, nil
}

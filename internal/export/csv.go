package export

import (
	"encoding/csv"
	"io"
)

// utf8BOM lets spreadsheet applications detect the encoding of the CSV.
const utf8BOM = "\ufeff"

// WriteCSV writes t as semicolon separated UTF-8 with a byte-order mark.
func (e *Exporter) WriteCSV(path string, t Table) (string, error) {
	return e.write(path, func(w io.Writer) error { return encodeCSV(w, t) })
}

func encodeCSV(w io.Writer, t Table) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = FormatCell(row[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

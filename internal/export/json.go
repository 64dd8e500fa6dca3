package export

import (
	"bytes"
	"encoding/json"
	"io"
	"time"
)

// WriteJSON writes one table as an array of records, or several tables as an
// object keyed by table name. Records keep column order.
func (e *Exporter) WriteJSON(path string, tables ...Table) (string, error) {
	return e.write(path, func(w io.Writer) error { return encodeJSON(w, tables) })
}

func encodeJSON(w io.Writer, tables []Table) error {
	var v any
	if len(tables) == 1 {
		v = records(tables[0])
	} else {
		set := make(map[string][]record, len(tables))
		for _, t := range tables {
			set[t.Name] = records(t)
		}
		v = set
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type record struct {
	cols []string
	vals []any
}

func records(t Table) []record {
	out := make([]record, 0, len(t.Rows))
	for _, row := range t.Rows {
		out = append(out, record{cols: t.Columns, vals: row})
	}
	return out
}

func (r record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.cols {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var v any
		if i < len(r.vals) {
			v = r.vals[i]
		}
		if t, ok := v.(time.Time); ok && t.IsZero() {
			v = nil
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

package export

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const (
	maxColumnWidth = 50
	maxSheetName   = 31
	defaultSheet   = "Sheet1"
)

var invalidSheetChars = regexp.MustCompile(`[\[\]:*?/\\]`)

// SheetName makes name acceptable as a worksheet title.
func SheetName(name string) string {
	name = invalidSheetChars.ReplaceAllString(name, "_")
	if name == "" {
		return "Sheet"
	}
	return truncateRunes(name, maxSheetName)
}

// WriteXLSX writes one worksheet per table. Every sheet has a bold, frozen
// header row with an auto-filter, no cell borders and column widths capped
// at 50 characters.
func (e *Exporter) WriteXLSX(path string, tables ...Table) (string, error) {
	return e.write(path, func(w io.Writer) error { return encodeXLSX(w, tables) })
}

func encodeXLSX(w io.Writer, tables []Table) error {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	used := make(map[string]bool)
	for i, t := range tables {
		sheet := uniqueSheet(SheetName(t.Name), used)
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, sheet); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("new sheet %s: %w", sheet, err)
		}
		if err := fillSheet(f, sheet, t, header); err != nil {
			return fmt.Errorf("sheet %s: %w", sheet, err)
		}
	}
	f.SetActiveSheet(0)

	_, err = f.WriteTo(w)
	return err
}

func fillSheet(f *excelize.File, sheet string, t Table, headerStyle int) error {
	if len(t.Columns) == 0 {
		return nil
	}

	cols := make([]any, len(t.Columns))
	widths := make([]int, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c
		widths[i] = utf8.RuneCountInString(c)
	}
	if err := f.SetSheetRow(sheet, "A1", &cols); err != nil {
		return err
	}

	for r, row := range t.Rows {
		cells := make([]any, len(t.Columns))
		for i := range cells {
			if i >= len(row) {
				continue
			}
			cells[i] = xlsxValue(row[i])
			if n := utf8.RuneCountInString(FormatCell(row[i])); n > widths[i] {
				widths[i] = n
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return err
		}
	}

	lastHeader, err := excelize.CoordinatesToCellName(len(t.Columns), 1)
	if err != nil {
		return err
	}
	lastCell, err := excelize.CoordinatesToCellName(len(t.Columns), len(t.Rows)+1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", lastHeader, headerStyle); err != nil {
		return err
	}
	if err := f.AutoFilter(sheet, "A1:"+lastCell, nil); err != nil {
		return err
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	for i, w := range widths {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if w > maxColumnWidth {
			w = maxColumnWidth
		}
		if w < 1 {
			w = 1
		}
		if err := f.SetColWidth(sheet, name, name, float64(w)); err != nil {
			return err
		}
	}
	return nil
}

// xlsxValue keeps numbers and dates native and renders the rest as text.
func xlsxValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return x
	case time.Time:
		if x.IsZero() {
			return nil
		}
		return x
	default:
		return FormatCell(x)
	}
}

// uniqueSheet suffixes name until it is free. Excel compares sheet names
// case-insensitively, so used is keyed on the lowered name.
func uniqueSheet(name string, used map[string]bool) string {
	candidate := name
	for n := 2; used[strings.ToLower(candidate)]; n++ {
		suffix := "_" + strconv.Itoa(n)
		candidate = truncateRunes(name, maxSheetName-len(suffix)) + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

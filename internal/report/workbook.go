package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"discernus/internal/stats"
)

// WriteWorkbook exports the statistics report to statistics.xlsx with one
// sheet per level. Each sheet is a flattened key/value view, so error leaves
// and numeric results land in the same shape.
func (w *Writer) WriteWorkbook(dir string, rpt *stats.Report) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheets := []struct {
		name  string
		value any
	}{
		{"Document Level", rpt.DocumentLevel},
		{"Dimension Level", rpt.DimensionLevel},
		{"Cross Level", rpt.CrossLevel},
		{"Metadata", rpt.Metadata},
	}
	if rpt.EvidenceLevel != nil {
		sheets = append(sheets, struct {
			name  string
			value any
		}{"Evidence Level", *rpt.EvidenceLevel})
	}

	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.name); err != nil {
				return "", err
			}
		} else {
			if _, err := f.NewSheet(sheet.name); err != nil {
				return "", err
			}
		}
		if err := writeSheet(f, sheet.name, sheet.value); err != nil {
			return "", fmt.Errorf("write sheet %s: %w", sheet.name, err)
		}
	}

	path := filepath.Join(dir, "statistics.xlsx")
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	w.logger.Info("wrote %s", path)
	return path, nil
}

func writeSheet(f *excelize.File, sheet string, value any) error {
	pairs, err := flatten(value)
	if err != nil {
		return err
	}

	for col, header := range []string{"Key", "Value"} {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
	}
	for row, pair := range pairs {
		keyCell, _ := excelize.CoordinatesToCellName(1, row+2)
		if err := f.SetCellValue(sheet, keyCell, pair.key); err != nil {
			return err
		}
		valueCell, _ := excelize.CoordinatesToCellName(2, row+2)
		if err := f.SetCellValue(sheet, valueCell, pair.value); err != nil {
			return err
		}
	}
	return nil
}

type kvPair struct {
	key   string
	value any
}

// flatten walks the JSON form of v into dotted key paths with scalar values,
// sorted for a stable sheet layout.
func flatten(v any) ([]kvPair, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	var pairs []kvPair
	walk("", decoded, &pairs)
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })
	return pairs, nil
}

func walk(prefix string, v any, out *[]kvPair) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(joinKey(prefix, k), val[k], out)
		}
	case []any:
		for i, item := range val {
			walk(joinKey(prefix, fmt.Sprintf("%d", i)), item, out)
		}
	default:
		key := prefix
		if key == "" {
			key = "value"
		}
		*out = append(*out, kvPair{key: key, value: val})
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.Join([]string{prefix, key}, ".")
}

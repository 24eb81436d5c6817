package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// CSVExporter renders a bundle as flat tabular rows, one row per leaf field.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render flattens nested sections into (section, field, value, exported_at)
// rows. Nested objects are dot-joined into the section path; array values of
// scalars are serialized as their JSON form.
func (e *CSVExporter) Render(bundle Bundle) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write([]string{"section", "field", "value", "exported_at"}); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	exportedAt := time.Now().UTC().Format(time.RFC3339)
	for _, section := range sortedKeys(bundle) {
		if err := writeRows(writer, section, bundle[section], exportedAt); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv export: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(writer *csv.Writer, path string, value interface{}, exportedAt string) error {
	switch v := value.(type) {
	case map[string]interface{}:
		for _, key := range sortedKeys(v) {
			child := v[key]
			switch child.(type) {
			case map[string]interface{}, []interface{}, []map[string]interface{}:
				if err := writeRows(writer, path+"."+key, child, exportedAt); err != nil {
					return err
				}
			default:
				if err := writeLeaf(writer, path, key, child, exportedAt); err != nil {
					return err
				}
			}
		}
	case []interface{}:
		if isScalarSlice(v) {
			section, field := splitPath(path)
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("render csv array value: %w", err)
			}
			return writeRecord(writer, section, field, string(raw), exportedAt)
		}
		for i, item := range v {
			if err := writeRows(writer, fmt.Sprintf("%s.%d", path, i), item, exportedAt); err != nil {
				return err
			}
		}
	case []map[string]interface{}:
		// Collected record sets arrive with this concrete type.
		for i, item := range v {
			if err := writeRows(writer, fmt.Sprintf("%s.%d", path, i), item, exportedAt); err != nil {
				return err
			}
		}
	default:
		section, field := splitPath(path)
		return writeLeaf(writer, section, field, v, exportedAt)
	}
	return nil
}

func writeLeaf(writer *csv.Writer, section, field string, value interface{}, exportedAt string) error {
	return writeRecord(writer, section, field, stringify(value), exportedAt)
}

func writeRecord(writer *csv.Writer, section, field, value, exportedAt string) error {
	if err := writer.Write([]string{section, field, value, exportedAt}); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	return nil
}

func isScalarSlice(items []interface{}) bool {
	for _, item := range items {
		switch item.(type) {
		case map[string]interface{}, []interface{}:
			return false
		}
	}
	return true
}

func splitPath(path string) (section, field string) {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return path, path
	}
	return path[:idx], path[idx+1:]
}

func stringify(value interface{}) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// package formatter reads and writes record sets as delimited files
// with stable column ordering and optional value encryption
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/shared"
)

// Columns renders a record set's column order: id first, remaining
// fields sorted for stability, the error column last. Bookkeeping
// fields are dropped except the source-id echo, which round-trips
// through files for prior-id tracking.
func Columns(records models.RecordSet) []string {
	seen := make(map[string]struct{})
	var middle []string
	hasID := false
	hasErrors := false
	hasSourceID := false

	for _, rec := range records {
		for name := range rec {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			switch name {
			case models.IDField:
				hasID = true
			case models.ErrorsField:
				hasErrors = true
			case models.SourceIDField:
				hasSourceID = true
			case models.InternalIDField, models.ProcessedField:
				// engine-internal, never persisted
			default:
				middle = append(middle, name)
			}
		}
	}
	sort.Strings(middle)

	cols := make([]string, 0, len(middle)+3)
	if hasID {
		cols = append(cols, models.IDField)
	}
	cols = append(cols, middle...)
	if hasSourceID {
		cols = append(cols, models.SourceIDField)
	}
	if hasErrors {
		cols = append(cols, models.ErrorsField)
	}
	return cols
}

// ExportToCSV renders a record set to CSV bytes. A non-nil cipher
// encrypts every value cell (headers stay plain).
func ExportToCSV(records models.RecordSet, cipher *shared.Cipher) ([]byte, error) {
	cols := Columns(records)

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(cols); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	row := make([]string, len(cols))
	for _, rec := range records {
		for i, col := range cols {
			cell := cellString(rec[col])
			if cipher != nil {
				enc, err := cipher.EncryptValue(cell)
				if err != nil {
					return nil, fmt.Errorf("failed to encrypt value: %w", err)
				}
				cell = enc
			}
			row[i] = cell
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteRecords writes a record set to a CSV file.
func WriteRecords(path string, records models.RecordSet, cipher *shared.Cipher) error {
	data, err := ExportToCSV(records, cipher)
	if err != nil {
		return fmt.Errorf("failed to generate CSV: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write CSV file: %w", err)
	}
	return nil
}

// ParseCSV reads CSV bytes back into records, casting cells by the
// object's known field types. Unknown columns stay strings. Empty
// cells become nil so absent optional values survive round trips.
func ParseCSV(data []byte, desc *models.ObjectDescribe, cipher *shared.Cipher) (models.RecordSet, error) {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	out := make(models.RecordSet, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(models.Record, len(header))
		for i, col := range header {
			if i >= len(row) {
				continue
			}
			cell := row[i]
			if cipher != nil {
				plain, err := cipher.DecryptValue(cell)
				if err != nil {
					return nil, fmt.Errorf("column %s: %w", col, err)
				}
				cell = plain
			}
			if cell == "" {
				rec[col] = nil
				continue
			}
			rec[col] = castCell(cell, columnType(desc, col))
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadRecords reads a CSV file back into records.
func ReadRecords(path string, desc *models.ObjectDescribe, cipher *shared.Cipher) (models.RecordSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return ParseCSV(data, desc, cipher)
}

func columnType(desc *models.ObjectDescribe, col string) models.FieldType {
	if desc == nil {
		return models.FieldTypeString
	}
	if f, ok := desc.Field(col); ok {
		return f.Type
	}
	return models.FieldTypeString
}

func castCell(cell string, t models.FieldType) any {
	switch t {
	case models.FieldTypeInt:
		if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
			return float64(n)
		}
	case models.FieldTypeFloat:
		if f, err := strconv.ParseFloat(cell, 64); err == nil {
			return f
		}
	case models.FieldTypeBool:
		if b, err := strconv.ParseBool(strings.ToLower(cell)); err == nil {
			return b
		}
	case models.FieldTypeDateTime:
		if _, err := time.Parse(time.RFC3339, cell); err == nil {
			return cell
		}
	}
	return cell
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(v)
	}
}

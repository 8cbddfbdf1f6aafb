package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"econetl/pkg/contracts/domain"
)

// SilverHeaders are the columns of a silver artifact
var SilverHeaders = []string{"country", "indicator", "date", "year", "quarter", "value", "data_source"}

// GoldHeaders are the columns of a gold artifact
var GoldHeaders = append(append([]string{}, SilverHeaders...),
	"yoy_change", "moving_average", "zscore", "growth_category", "is_anomaly")

// StreamWriter writes CSV rows one at a time
type StreamWriter struct {
	writer *csv.Writer
}

// NewStreamWriter creates a CSV stream over w and writes the header row
func NewStreamWriter(w io.Writer, headers []string) (*StreamWriter, error) {
	writer := csv.NewWriter(w)
	if len(headers) > 0 {
		if err := writer.Write(headers); err != nil {
			return nil, fmt.Errorf("failed to write headers: %w", err)
		}
	}
	return &StreamWriter{writer: writer}, nil
}

// WriteRecord writes a single record to the stream
func (s *StreamWriter) WriteRecord(record []string) error {
	return s.writer.Write(record)
}

// Close flushes the stream
func (s *StreamWriter) Close() error {
	s.writer.Flush()
	return s.writer.Error()
}

func silverRow(r domain.SilverRecord) []string {
	return []string{
		r.Country,
		r.Indicator,
		r.Date.Format(domain.DateLayout),
		formatInt(r.Year),
		formatInt(r.Quarter),
		formatFloat(r.Value),
		r.DataSource,
	}
}

// WriteSilverCSV encodes silver records in order
func WriteSilverCSV(w io.Writer, records []domain.SilverRecord) error {
	stream, err := NewStreamWriter(w, SilverHeaders)
	if err != nil {
		return err
	}
	for i, r := range records {
		if err := stream.WriteRecord(silverRow(r)); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	return stream.Close()
}

// WriteGoldCSV encodes gold records in order
func WriteGoldCSV(w io.Writer, records []domain.GoldRecord) error {
	stream, err := NewStreamWriter(w, GoldHeaders)
	if err != nil {
		return err
	}
	for i, r := range records {
		category := ""
		if r.GrowthCategory != nil {
			category = string(*r.GrowthCategory)
		}
		row := append(silverRow(r.SilverRecord),
			formatOptionalFloat(r.YoYChange),
			formatOptionalFloat(r.MovingAverage),
			formatOptionalFloat(r.ZScore),
			category,
			formatBool(r.IsAnomaly),
		)
		if err := stream.WriteRecord(row); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	return stream.Close()
}

// table is a header-indexed view over CSV rows
type table struct {
	index map[string]int
	rows  [][]string
}

func readTable(r io.Reader, required []string) (*table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	t := &table{index: make(map[string]int, len(header))}
	for i, name := range header {
		t.index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range required {
		if _, ok := t.index[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	t.rows, err = reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return t, nil
}

func (t *table) get(row []string, column string) string {
	i, ok := t.index[column]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func (t *table) silver(row []string, line int) (domain.SilverRecord, error) {
	date, err := time.Parse(domain.DateLayout, t.get(row, "date"))
	if err != nil {
		return domain.SilverRecord{}, fmt.Errorf("line %d: invalid date: %w", line, err)
	}
	value, err := strconv.ParseFloat(t.get(row, "value"), 64)
	if err != nil {
		return domain.SilverRecord{}, fmt.Errorf("line %d: invalid value: %w", line, err)
	}

	rec := domain.SilverRecord{
		Country:    t.get(row, "country"),
		Indicator:  t.get(row, "indicator"),
		Date:       date,
		Year:       date.Year(),
		Quarter:    (int(date.Month())-1)/3 + 1,
		Value:      value,
		DataSource: t.get(row, "data_source"),
	}
	if y, err := strconv.Atoi(t.get(row, "year")); err == nil {
		rec.Year = y
	}
	if q, err := strconv.Atoi(t.get(row, "quarter")); err == nil {
		rec.Quarter = q
	}
	return rec, nil
}

// ReadSilverCSV decodes a silver artifact
func ReadSilverCSV(r io.Reader) ([]domain.SilverRecord, error) {
	t, err := readTable(r, []string{"country", "indicator", "date", "value"})
	if err != nil {
		return nil, err
	}

	records := make([]domain.SilverRecord, 0, len(t.rows))
	for i, row := range t.rows {
		rec, err := t.silver(row, i+2)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadGoldCSV decodes a gold artifact
func ReadGoldCSV(r io.Reader) ([]domain.GoldRecord, error) {
	t, err := readTable(r, []string{"country", "indicator", "date", "value"})
	if err != nil {
		return nil, err
	}

	records := make([]domain.GoldRecord, 0, len(t.rows))
	for i, row := range t.rows {
		line := i + 2
		silver, err := t.silver(row, line)
		if err != nil {
			return nil, err
		}
		rec := domain.GoldRecord{SilverRecord: silver}

		if rec.YoYChange, err = parseOptionalFloat(t.get(row, "yoy_change")); err != nil {
			return nil, fmt.Errorf("line %d: yoy_change: %w", line, err)
		}
		if rec.MovingAverage, err = parseOptionalFloat(t.get(row, "moving_average")); err != nil {
			return nil, fmt.Errorf("line %d: moving_average: %w", line, err)
		}
		if rec.ZScore, err = parseOptionalFloat(t.get(row, "zscore")); err != nil {
			return nil, fmt.Errorf("line %d: zscore: %w", line, err)
		}
		if c := t.get(row, "growth_category"); c != "" {
			category := domain.GrowthCategory(c)
			rec.GrowthCategory = &category
		}
		rec.IsAnomaly, _ = strconv.ParseBool(t.get(row, "is_anomaly"))
		records = append(records, rec)
	}
	return records, nil
}

// ReadSilverFile decodes the silver artifact at path
func ReadSilverFile(path string) ([]domain.SilverRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := ReadSilverCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// ReadGoldFile decodes the gold artifact at path
func ReadGoldFile(path string) ([]domain.GoldRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := ReadGoldCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

package exporter

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"econetl/pkg/contracts/domain"
)

const (
	SheetGold          = "gold"
	SheetCountryYear   = "country_year"
	SheetYearIndicator = "year_indicator"
)

func optional(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

// WriteGoldWorkbook writes the gold rows and their aggregates as an xlsx workbook
func WriteGoldWorkbook(w io.Writer, records []domain.GoldRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetGold); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if err := writeGoldSheet(f, records); err != nil {
		return err
	}

	countryYear := SummarizeByCountryYear(records)
	rows := make([][]interface{}, 0, len(countryYear))
	for _, s := range countryYear {
		rows = append(rows, []interface{}{
			s.Country, s.Year, s.Count, s.Mean, optional(s.Std), s.Min, s.Max,
			optional(s.MeanYoY), optional(s.MeanZScore),
		})
	}
	if err := writeSheet(f, SheetCountryYear,
		[]interface{}{"country", "year", "count", "mean", "std", "min", "max", "mean_yoy_change", "mean_zscore"},
		rows); err != nil {
		return err
	}

	yearIndicator := SummarizeByYearIndicator(records)
	rows = make([][]interface{}, 0, len(yearIndicator))
	for _, s := range yearIndicator {
		rows = append(rows, []interface{}{s.Year, s.Indicator, s.Count, s.Mean, s.Median, optional(s.Std)})
	}
	if err := writeSheet(f, SheetYearIndicator,
		[]interface{}{"year", "indicator", "count", "mean", "median", "std"},
		rows); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeGoldSheet(f *excelize.File, records []domain.GoldRecord) error {
	sw, err := f.NewStreamWriter(SheetGold)
	if err != nil {
		return fmt.Errorf("failed to open gold sheet: %w", err)
	}

	header := make([]interface{}, len(GoldHeaders))
	for i, h := range GoldHeaders {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write gold header: %w", err)
	}

	for i, r := range records {
		var category interface{}
		if r.GrowthCategory != nil {
			category = string(*r.GrowthCategory)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			r.Country, r.Indicator, r.Date.Format(domain.DateLayout), r.Year, r.Quarter, r.Value, r.DataSource,
			optional(r.YoYChange), optional(r.MovingAverage), optional(r.ZScore), category, r.IsAnomaly,
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("failed to write gold row %d: %w", i, err)
		}
	}
	return sw.Flush()
}

func writeSheet(f *excelize.File, name string, header []interface{}, rows [][]interface{}) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", name, err)
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", name, err)
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, cell, &rows[i]); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", name, i, err)
		}
	}
	return nil
}

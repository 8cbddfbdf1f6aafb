package exporter

import (
	"math"
	"sort"

	"econetl/pkg/contracts/domain"
)

// CountryYearSummary aggregates the gold rows of one country and year
type CountryYearSummary struct {
	Country    string
	Year       int
	Count      int
	Mean       float64
	Std        *float64
	Min        float64
	Max        float64
	MeanYoY    *float64
	MeanZScore *float64
}

// YearIndicatorSummary aggregates one indicator across countries for a year
type YearIndicatorSummary struct {
	Year      int
	Indicator string
	Count     int
	Mean      float64
	Median    float64
	Std       *float64
}

type countryYear struct {
	country string
	year    int
}

type yearIndicator struct {
	year      int
	indicator string
}

// SummarizeByCountryYear groups gold records by (country, year)
func SummarizeByCountryYear(records []domain.GoldRecord) []CountryYearSummary {
	groups := make(map[countryYear][]domain.GoldRecord)
	for _, r := range records {
		k := countryYear{r.Country, r.Year}
		groups[k] = append(groups[k], r)
	}

	out := make([]CountryYearSummary, 0, len(groups))
	for k, rows := range groups {
		values := make([]float64, len(rows))
		var yoys, zs []float64
		for i, r := range rows {
			values[i] = r.Value
			if r.YoYChange != nil {
				yoys = append(yoys, *r.YoYChange)
			}
			if r.ZScore != nil {
				zs = append(zs, *r.ZScore)
			}
		}
		min, max := minMax(values)
		out = append(out, CountryYearSummary{
			Country:    k.country,
			Year:       k.year,
			Count:      len(rows),
			Mean:       mean(values),
			Std:        sampleStd(values),
			Min:        min,
			Max:        max,
			MeanYoY:    optionalMean(yoys),
			MeanZScore: optionalMean(zs),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Country != out[j].Country {
			return out[i].Country < out[j].Country
		}
		return out[i].Year < out[j].Year
	})
	return out
}

// SummarizeByYearIndicator groups gold records by (year, indicator)
func SummarizeByYearIndicator(records []domain.GoldRecord) []YearIndicatorSummary {
	groups := make(map[yearIndicator][]float64)
	for _, r := range records {
		k := yearIndicator{r.Year, r.Indicator}
		groups[k] = append(groups[k], r.Value)
	}

	out := make([]YearIndicatorSummary, 0, len(groups))
	for k, values := range groups {
		out = append(out, YearIndicatorSummary{
			Year:      k.year,
			Indicator: k.indicator,
			Count:     len(values),
			Mean:      mean(values),
			Median:    median(values),
			Std:       sampleStd(values),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Indicator < out[j].Indicator
	})
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func optionalMean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	m := mean(values)
	return &m
}

// sampleStd is nil below two values
func sampleStd(values []float64) *float64 {
	if len(values) < 2 {
		return nil
	}
	m := mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	std := math.Sqrt(ss / float64(len(values)-1))
	return &std
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func minMax(values []float64) (float64, float64) {
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

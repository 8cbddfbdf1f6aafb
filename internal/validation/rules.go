package validation

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Row is one record of a table, keyed by column name
type Row map[string]interface{}

// Rule constrains a single column. Min and Max bound numeric values; time
// values are bounded by their year.
type Rule struct {
	Min      *float64
	Max      *float64
	Required bool
}

// Rules maps column names to their rule
type Rules map[string]Rule

// Result is the outcome of a validation pass
type Result struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

// Bound is a helper for building rule limits
func Bound(v float64) *float64 {
	return &v
}

// DataValidator checks tabular data against per-column rules
type DataValidator struct {
	logger *slog.Logger
}

// NewDataValidator creates a new data validator
func NewDataValidator(logger *slog.Logger) *DataValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataValidator{logger: logger}
}

// Validate checks rows against rules without modifying them
func (v *DataValidator) Validate(rows []Row, rules Rules) Result {
	result := Validate(rows, rules)
	if !result.IsValid {
		v.logger.Warn("data_validation_failed",
			slog.Int("rows", len(rows)),
			slog.Int("violations", len(result.Errors)))
	}
	return result
}

type violation struct {
	count int
	first int
}

func (vi *violation) add(row int) {
	if vi.count == 0 {
		vi.first = row
	}
	vi.count++
}

// Validate checks rows against rules. Every violated (column, check) pair
// contributes one error naming the number of offending rows.
func Validate(rows []Row, rules Rules) Result {
	columns := make([]string, 0, len(rules))
	for column := range rules {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	var errs []string
	for _, column := range columns {
		rule := rules[column]
		var missing, notNumeric, below, above violation

		for i, row := range rows {
			raw, present := row[column]
			if !present || isNil(raw) {
				if rule.Required {
					missing.add(i)
				}
				continue
			}
			if rule.Min == nil && rule.Max == nil {
				continue
			}

			n, ok := numeric(raw)
			if !ok {
				notNumeric.add(i)
				continue
			}
			if rule.Min != nil && n < *rule.Min {
				below.add(i)
			}
			if rule.Max != nil && n > *rule.Max {
				above.add(i)
			}
		}

		if missing.count > 0 {
			errs = append(errs, fmt.Sprintf("%s: %d row(s) missing a required value (first at row %d)",
				column, missing.count, missing.first))
		}
		if notNumeric.count > 0 {
			errs = append(errs, fmt.Sprintf("%s: %d row(s) not numeric (first at row %d)",
				column, notNumeric.count, notNumeric.first))
		}
		if below.count > 0 {
			errs = append(errs, fmt.Sprintf("%s: %d row(s) below minimum %s (first at row %d)",
				column, below.count, formatBound(*rule.Min), below.first))
		}
		if above.count > 0 {
			errs = append(errs, fmt.Sprintf("%s: %d row(s) above maximum %s (first at row %d)",
				column, above.count, formatBound(*rule.Max), above.first))
		}
	}

	return Result{IsValid: len(errs) == 0, Errors: errs}
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func isNil(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case *float64:
		return t == nil
	case *time.Time:
		return t == nil
	case *string:
		return t == nil
	case string:
		return strings.TrimSpace(t) == ""
	case float64:
		return math.IsNaN(t)
	}
	return false
}

// numeric converts a cell to the number compared against Min and Max
func numeric(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case *float64:
		return *t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case time.Time:
		return float64(t.Year()), true
	case *time.Time:
		return float64(t.Year()), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case *string:
		f, err := strconv.ParseFloat(strings.TrimSpace(*t), 64)
		return f, err == nil
	}
	return 0, false
}

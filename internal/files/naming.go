package files

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"econetl/pkg/contracts/domain"
)

// TimestampLayout is the second-resolution part of artifact timestamps
const TimestampLayout = "20060102_150405"

const (
	GoldPrefix   = "economic_indicators_gold"
	ReportPrefix = "report"
)

// Timestamp formats t for use in artifact names. The nanosecond suffix keeps
// artifacts written in the same second apart.
func Timestamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s_%09d", t.Format(TimestampLayout), t.Nanosecond())
}

// BronzeName names the raw artifact of one extractor invocation
func BronzeName(source domain.Source, t time.Time) string {
	return fmt.Sprintf("%s_%s.json", source, Timestamp(t))
}

// SilverName names the cleaned artifact derived from one bronze artifact
func SilverName(source domain.Source, t time.Time) string {
	return fmt.Sprintf("%s_silver_%s.csv", source, Timestamp(t))
}

// GoldName names the analytical artifact of one run
func GoldName(t time.Time) string {
	return fmt.Sprintf("%s_%s.csv", GoldPrefix, Timestamp(t))
}

// WorkbookName names the optional gold workbook written next to the gold CSV
func WorkbookName(t time.Time) string {
	return fmt.Sprintf("%s_%s.xlsx", GoldPrefix, Timestamp(t))
}

// ReportName names the execution report of a run
func ReportName(runID string) string {
	return fmt.Sprintf("%s_%s.json", ReportPrefix, runID)
}

// SourceFromArtifact recovers the producing source from a bronze or silver
// artifact path. The source is the file name up to the first underscore.
func SourceFromArtifact(path string) (domain.Source, error) {
	name := filepath.Base(path)
	prefix, _, found := strings.Cut(name, "_")
	if !found {
		return "", fmt.Errorf("artifact %q carries no source prefix", name)
	}
	return domain.ParseSource(prefix)
}

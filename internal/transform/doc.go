// Package transform moves data from bronze to silver and from silver to gold.
//
// BronzeToSilver cleans one bronze artifact into one silver artifact:
//
//	read -> coerce types -> normalize dates -> handle nulls -> deduplicate -> validate -> persist
//
// The whole table is held in memory. A failed validation returns a
// TransformationError carrying every violation and writes nothing.
//
// SilverToGold joins every silver artifact of a run and derives, per
// (country, indicator) series ordered by date, the year-over-year change over
// four periods, a trailing twelve period moving average, the z-score against
// the series mean and sample standard deviation, a growth category and an
// anomaly flag.
package transform

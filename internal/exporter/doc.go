// Package exporter encodes silver and gold records as CSV and exports the gold
// set as an Excel workbook.
//
// The CSV codec is the on-disk format of the silver and gold layers. Columns
// are addressed by header name when reading, so files carrying extra columns
// still decode. Optional gold analytics are written as empty cells when null.
//
// The workbook carries the gold rows plus two aggregate sheets: per country
// and year (mean, std, min, max of the values, mean yoy change and z-score)
// and per year and indicator across countries (mean, median, std).
package exporter

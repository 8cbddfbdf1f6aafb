// Package files stores the artifacts of the bronze, silver and gold layers.
//
// Manager writes artifacts atomically: content goes to a temporary file in the
// layer directory which is synced and then renamed into place, so readers of a
// layer never observe a partially written file. Artifact names carry the
// producing source and a nanosecond UTC timestamp:
//
//	bronze  worldbank_20240301_123000_000000001.json
//	silver  imf_silver_20240301_123001_000000002.csv
//	gold    economic_indicators_gold_20240301_123002_000000003.csv
//	report  report_<run_id>.json (gold directory)
//
// Discovery lists artifacts of a layer, newest last, for the loader and the
// HTTP report endpoint.
package files

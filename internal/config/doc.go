// Package config provides configuration loading and validation for the pipeline.
//
// # Configuration Sources
//
// Configuration is assembled from the following sources, later ones winning:
//
//	1. Built-in defaults (Default)
//	2. A YAML file (pipeline.yaml or configs/pipeline.yaml)
//	3. A .env file in the working directory, if present
//	4. ECONETL_* environment variables
//
// # Environment Variables
//
// Nested fields are addressed by joining section and key names:
//
//	ECONETL_WORLDBANK_INDICATORS=NY.GDP.MKTP.KD.ZG,FP.CPI.TOTL.ZG
//	ECONETL_IMF_ENABLED=false
//	ECONETL_WAREHOUSE_DRIVER=postgres
//	ECONETL_WAREHOUSE_DSN=postgres://etl@localhost/econ?sslmode=disable
//	ECONETL_PIPELINE_MAX_FAILED_SOURCE_RATIO=0.5
//
// # Validation
//
// Load validates the result with struct tags plus cross-field rules and
// returns a CONFIGURATION error listing every problem found. The returned
// Config is treated as read-only by the rest of the program.
package config

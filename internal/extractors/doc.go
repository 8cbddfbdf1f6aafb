// Package extractors pulls economic indicators from upstream REST APIs and
// persists each invocation's result as a bronze artifact.
//
// Two providers are implemented: the World Bank indicators API and the IMF
// SDMX-JSON CompactData service. Both share an HTTP client that paces requests
// with a token bucket and retries transient failures (429, 500, 502, 503, 504,
// transport errors and timeouts) with exponential backoff.
//
// A failed invocation returns an *errors.AppError: ExtractionError for
// transport failures and exhausted retries, DataValidationError when the
// provider answered with an unexpected payload shape.
package extractors

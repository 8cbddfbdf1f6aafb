// Package http exposes the pipeline over HTTP in serve mode: health, the
// latest execution report, on-demand runs and the Prometheus scrape endpoint.
// Handlers stay thin and delegate to the operations package.
package http

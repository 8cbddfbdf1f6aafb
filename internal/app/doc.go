// Package app assembles the pipeline application from its configuration:
// logger, telemetry, orchestrator and, in serve mode, the HTTP server.
// It owns startup order and graceful shutdown.
package app

// Package metrics exposes Prometheus collectors for the MCP server.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

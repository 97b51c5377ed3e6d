// Package server implements the HTTP API: the batch recognition endpoint, the upstream
// gateway endpoint, and the monitoring endpoints (health, stats, config, metrics).
package server

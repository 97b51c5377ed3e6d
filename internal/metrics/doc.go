// Package metrics defines the Prometheus instruments exported by the ASR service.
package metrics

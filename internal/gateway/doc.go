// Package gateway forwards single-file recognition requests to an upstream ASR service
// and relays its JSON answer.
package gateway

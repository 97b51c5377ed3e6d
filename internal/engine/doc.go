// Package engine defines the recognition engine contract and an HTTP client for a
// co-located model server. The engine turns batches of normalized clips into keyed,
// tagged transcripts.
package engine

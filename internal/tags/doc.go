// Package tags parses the tagged transcripts produced by the recognition engine.
// A transcript interleaves plain text with markers of the form <|NAME|>; the package
// tokenizes them into typed runs, extracts emotion and acoustic event labels, strips
// markers into clean text, and renders a display form through a pluggable Renderer.
package tags

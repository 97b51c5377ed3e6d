// Package vad provides energy based voice activity statistics for normalized clips.
package vad

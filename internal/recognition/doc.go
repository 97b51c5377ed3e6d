// Package recognition implements the batch request pipeline: request validation,
// parallel audio normalization, a single batched engine call, and correlation of the
// tagged transcripts back to the uploaded files.
package recognition

package darkscan

import "errors"

var (
	// ErrCaptureNotFound is returned when a capture ID does not exist.
	ErrCaptureNotFound = errors.New("darkscan: capture not found")

	// ErrNoText is returned when a capture carries no usable text.
	ErrNoText = errors.New("darkscan: capture has no usable text")

	// ErrEmbeddingFailed is returned when embedding generation fails for
	// every block of a capture.
	ErrEmbeddingFailed = errors.New("darkscan: embedding generation failed")

	// ErrCheckpointInvalid is returned for a malformed or inconsistent
	// classifier checkpoint artifact.
	ErrCheckpointInvalid = errors.New("darkscan: invalid classifier checkpoint")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("darkscan: invalid configuration")
)

package serial

import "errors"

var (
	// ErrNotConnected is returned when writing while the port is closed.
	ErrNotConnected = errors.New("serial: port not open")

	// ErrOpenFailed is returned when the device cannot be opened.
	ErrOpenFailed = errors.New("serial: open failed")

	// ErrWriteFailed is returned when a line cannot be written.
	ErrWriteFailed = errors.New("serial: write failed")

	// ErrUnknownEncoding is returned for an unsupported serial.encoding value.
	ErrUnknownEncoding = errors.New("serial: unknown encoding")

	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("serial: port closed")
)

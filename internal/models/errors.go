package models

import "errors"

var (
	// ErrTransport covers advertise, discover, connect, send and receive failures.
	ErrTransport = errors.New("transport error")

	// ErrVersionIncompatible means the snapshot format is outside the supported range.
	ErrVersionIncompatible = errors.New("snapshot version incompatible")

	// ErrUnknownCharacter means no local character has the snapshot's guid and
	// creating one was not allowed.
	ErrUnknownCharacter = errors.New("unknown character")

	// ErrPayloadTooLarge means the encoded snapshot exceeds the transport limit.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrDecode means the payload is malformed or truncated.
	ErrDecode = errors.New("snapshot decode error")

	ErrNotFound = errors.New("not found")

	ErrInvalidInput = errors.New("invalid input")
)

package types

import "errors"

var (
	// ErrInvalidVersion is returned for version numbers outside of the valid range.
	// Versions start at 1.
	ErrInvalidVersion = errors.New("invalid version")
	// ErrInvalidPeer is returned for an empty or malformed peer identity.
	ErrInvalidPeer = errors.New("invalid peer identity")
)

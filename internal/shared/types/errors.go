package types

import "errors"

var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrEmbedFailure     = errors.New("embed failure")
	ErrProtocolMismatch = errors.New("protocol mismatch")
)

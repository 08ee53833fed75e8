package sealbox

import "errors"

var (
	ErrMalformedBox   = errors.New("sealbox: malformed box")
	ErrInvalidKey     = errors.New("sealbox: invalid public key")
	ErrOpenFailed     = errors.New("sealbox: message authentication failed")
	ErrUnknownVersion = errors.New("sealbox: unknown box version")
)

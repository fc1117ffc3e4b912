package types

import "errors"

// Domain errors for model validation.
var (
	ErrNullFileID      = errors.New("file id must not be 0")
	ErrNullLocation    = errors.New("location must name a file")
	ErrInvalidKind     = errors.New("invalid symbol kind")
	ErrEmptySymbolName = errors.New("symbol name is required")
)

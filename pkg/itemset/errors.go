package itemset

import "errors"

var (
	// ErrInvalidPrefix indicates a key that is not a valid prefix text form.
	ErrInvalidPrefix = errors.New("invalid prefix")
	// ErrMalformedRecord indicates a record matrix that does not follow the
	// merged or short record layout.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrDuplicateItem indicates an item that appears twice in one merged record.
	ErrDuplicateItem = errors.New("duplicate item in merged record")
)

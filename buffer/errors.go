package buffer

import "github.com/pkg/errors"

var (
	// ErrPoolExhausted is returned when a block must be loaded and the active strategy finds no victim.
	// The pool never waits; callers decide whether to retry, back off or abort.
	ErrPoolExhausted = errors.New("buffer pool exhausted")

	// ErrInvalidState is returned when a caller unpins a buffer that is not pinned or not owned by the pool.
	ErrInvalidState = errors.New("invalid buffer state")

	// ErrUnsupportedStrategy is returned when a strategy name or code is not recognized.
	ErrUnsupportedStrategy = errors.New("unsupported replacement strategy")
)

// IsPoolExhausted reports whether err was caused by an exhausted pool.
func IsPoolExhausted(err error) bool {
	return errors.Is(err, ErrPoolExhausted)
}

// IsInvalidState reports whether err was caused by a pin-count contract violation.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

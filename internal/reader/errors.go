package reader

import (
	"errors"
	"fmt"
	"time"
)

// Corrupt or incomplete recordings are reported with these sentinels,
// matched with errors.Is.
var (
	ErrInvalidTiming = errors.New("invalid timing")
	ErrOutOfOrder    = errors.New("entry out of order")
	ErrMissingEntry  = errors.New("missing entry")
)

// SequenceError reports an entry whose number does not follow its
// predecessor. Err is ErrOutOfOrder or ErrMissingEntry.
type SequenceError struct {
	Err      error
	Expected uint64
	Got      uint64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("%v: expected entry %d, got %d", e.Err, e.Expected, e.Got)
}

func (e *SequenceError) Unwrap() error { return e.Err }

// TimingError reports an entry whose position is unusable.
type TimingError struct {
	Seq    uint64
	Pos    time.Duration
	Prev   time.Duration
	Reason string
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("%v: entry %d at %s: %s", ErrInvalidTiming, e.Seq, e.Pos, e.Reason)
}

func (e *TimingError) Unwrap() error { return ErrInvalidTiming }

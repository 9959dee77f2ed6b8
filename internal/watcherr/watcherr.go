package watcherr

import (
	"errors"
	"fmt"
)

// Kind classifies a collaborator failure per the watchdog's error taxonomy.
type Kind string

const (
	// KindDataSource marks a failed price fetch; the asset is skipped for the tick.
	KindDataSource Kind = "data_source"
	// KindAnalysis marks a failed AI invocation; the unavailable tier is skipped.
	KindAnalysis Kind = "analysis"
	// KindDelivery marks a failed notification dispatch; the event is still recorded.
	KindDelivery Kind = "delivery"
	// KindPersistence marks a failed store write; fatal for that asset's tick only.
	KindPersistence Kind = "persistence"
)

// Error carries a Kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Newf wraps a formatted error with the given kind.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of err, or empty string when err carries none.
func KindOf(err error) Kind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return ""
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

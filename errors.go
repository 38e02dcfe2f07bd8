package feedpulse

import (
	"errors"
	"fmt"

	"github.com/hupe1980/feedpulse/kvstore"
	"github.com/hupe1980/feedpulse/projection"
	"github.com/hupe1980/feedpulse/validate"
)

var (
	// ErrNotFound is returned when a feed or record is not found.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited is returned when a client exceeded its ingest budget
	// for the current window.
	ErrRateLimited = errors.New("rate limited")

	// ErrClosed is returned on operations against a closed engine.
	ErrClosed = errors.New("engine is closed")
)

// ErrInvalidPayload indicates an ingest payload that failed its feed type's
// validation rules.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidPayload struct {
	FeedID string
	cause  error
}

func (e *ErrInvalidPayload) Error() string {
	return fmt.Sprintf("invalid payload for feed %q: %v", e.FeedID, e.cause)
}

func (e *ErrInvalidPayload) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, kvstore.ErrNotFound) || errors.Is(err, projection.ErrUnknownFeed) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var ip *ErrInvalidPayload
	if errors.As(err, &ip) {
		return err
	}

	var ve *validate.Error
	if errors.As(err, &ve) {
		return &ErrInvalidPayload{cause: err}
	}

	return err
}

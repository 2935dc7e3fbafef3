package coordination

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports malformed input. Operations that validate
// fail fast, before any state is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// NotFoundError reports an unknown manuscript or reviewer.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// InvalidTransitionError reports an event that is illegal for the
// current stage. The context is left unchanged when this is returned.
type InvalidTransitionError struct {
	From  Stage
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid in stage %q", e.Event, e.From)
}

// InsufficientReviewersError reports that the matcher could not satisfy
// the requested reviewer count under the eligibility constraints.
type InsufficientReviewersError struct {
	Wanted   int
	Eligible int
}

func (e *InsufficientReviewersError) Error() string {
	return fmt.Sprintf("need %d reviewers, only %d eligible", e.Wanted, e.Eligible)
}

// ConcurrencyConflictError reports a per-manuscript lock acquisition
// timeout. The caller may retry.
type ConcurrencyConflictError struct {
	ManuscriptID string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("coordination %q is busy, retry later", e.ManuscriptID)
}

// ExternalDispatchError reports a failed call to an external
// collaborator (notifier, scorer, journal platform). Always caught at
// the call boundary; never surfaced to coordination callers.
type ExternalDispatchError struct {
	Collaborator string
	Err          error
}

func (e *ExternalDispatchError) Error() string {
	return fmt.Sprintf("%s dispatch failed: %v", e.Collaborator, e.Err)
}

func (e *ExternalDispatchError) Unwrap() error { return e.Err }

// HTTPStatus maps a coordination error to the status code the API
// surface reports for it.
func HTTPStatus(err error) int {
	var (
		validation   *ValidationError
		notFound     *NotFoundError
		transition   *InvalidTransitionError
		insufficient *InsufficientReviewersError
		conflict     *ConcurrencyConflictError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &transition):
		return http.StatusConflict
	case errors.As(err, &insufficient):
		return http.StatusUnprocessableEntity
	case errors.As(err, &conflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package reminder

import "time"

// Rejection reasons reported by Schedulable.
const (
	ReasonAlreadyPast    = "already past"
	ReasonNotBeforeEvent = "not before event"
)

// Schedulable reports whether a candidate fire instant may be registered.
//
// Both constraints are strict and checked independently: a candidate equal to
// "now" is already past, and a candidate equal to the event instant is not
// before it. Rejections are advisory (reason is returned for logs/response);
// they never fail the submission.
func Schedulable(candidate, now, eventAt time.Time) (bool, string) {
	if !candidate.After(now) {
		return false, ReasonAlreadyPast
	}
	if !candidate.Before(eventAt) {
		return false, ReasonNotBeforeEvent
	}
	return true, ""
}

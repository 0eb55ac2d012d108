package reminder

import (
	"fmt"
	"time"

	"remindd/internal/event"
)

// ResolveInstant converts an event date ("YYYY-MM-DD") and wall-clock time
// ("HH:MM") plus a signed offset into an absolute instant.
//
// Date and time are interpreted as UTC literals. Host-local interpretation
// would make the derived fire instants depend on wherever the process happens
// to run, so the same submission could schedule differently across deploys.
//
// Malformed input fails fast; a zero time is never propagated.
func ResolveInstant(date, clock string, offset time.Duration) (time.Time, error) {
	t, err := time.Parse(event.DateLayout+" "+event.ClockLayout, date+" "+clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("resolve instant: %w", err)
	}
	return t.UTC().Add(offset), nil
}

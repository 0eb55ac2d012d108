package reminder

import "time"

// OffsetSpec names a signed duration relative to the event instant.
// Zero means "around submission time".
type OffsetSpec struct {
	Name   string
	Offset time.Duration
}

// Immediate reports whether this offset is the zero-offset fast path.
func (o OffsetSpec) Immediate() bool { return o.Offset == 0 }

// Offset names. They are part of trigger names, so they must stay stable.
const (
	OffsetImmediate = "Immediate"
	OffsetOneWeek   = "OneWeek"
	OffsetThreeDays = "ThreeDays"
	OffsetOneDay    = "OneDay"
)

// Offsets returns the fixed reminder plan, in registration order.
// The order only affects log and registration ordering; every entry is
// independent.
func Offsets() []OffsetSpec {
	return []OffsetSpec{
		{Name: OffsetImmediate, Offset: 0},
		{Name: OffsetOneWeek, Offset: -7 * 24 * time.Hour},
		{Name: OffsetThreeDays, Offset: -3 * 24 * time.Hour},
		{Name: OffsetOneDay, Offset: -24 * time.Hour},
	}
}

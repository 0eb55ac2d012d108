// Package reminder implements the reminder scheduling engine.
//
// A submitted event resolves to an absolute UTC instant; a fixed offset plan
// derives one candidate fire instant per named offset; candidates that are
// strictly in the future and strictly before the event are rendered into a
// one-shot expression and registered with the trigger backend under a
// deterministic name. The zero offset never goes through the scheduler: it is
// handed to the immediate dispatch pipeline instead.
//
// Per-offset failures are isolated and collected; a submission succeeds as
// long as the event record itself was persisted.
package reminder

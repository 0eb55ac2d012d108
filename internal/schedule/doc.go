// Package schedule provides the in-process schedule service backing the local
// trigger backend.
//
// The service is responsible only for trigger timing:
//   - one-shot timers, upserted by name (replacing a name replaces its timer)
//   - recurring cron jobs (robfig/cron, UTC) for maintenance work such as the
//     event retention sweep
//
// Names are stable and human readable so entries can be replaced and removed
// deterministically. Jobs run with a per-job timeout and panic recovery.
package schedule

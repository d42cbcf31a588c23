// Package storage is the sqlite system of record.
//
// It holds:
//   - candidates and their metric snapshots
//   - per-candidate reward statistics (arms)
//   - the decision log (selections and realized rewards)
//   - the action log (the durable source of truth for rate limits)
//   - the operator audit journal and alert dedup state
package storage

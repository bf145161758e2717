// Package sqlqueue implements dbqueue.Table and a Writer over database/sql.
//
// One table holds one queue. Claims run in a single transaction:
//   - SELECT pending rows with visible_at <= now ORDER BY visible_at, id LIMIT n,
//     using the dialect lock clause (FOR UPDATE SKIP LOCKED where supported)
//   - UPDATE the selected rows to in-flight and increment attempt_count
//   - hand the open transaction to the caller as a dbqueue.Batch
//
// Timestamps are stored as BIGINT Unix microseconds so every dialect orders them the same way.
// Dialects live in the postgres, mysql and sqlite packages.
package sqlqueue

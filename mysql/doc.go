// Package mysql provides the MySQL 8.0+ dialect for dbqueue.
//
// The claim uses:
//   - READ COMMITTED isolation (to avoid gap locks)
//   - SELECT ... FOR UPDATE SKIP LOCKED
//   - ORDER BY visible_at, id over the (status, visible_at, id) index
//   - LIMIT for batching
//
// A schema qualifier names a database, which must already exist.
package mysql

// Package sqlite provides the embedded SQLite dialect for dbqueue.
//
// SQLite has no row-level locks, so claims do not skip: connections are opened
// with _txlock=immediate and every claim transaction takes the database write lock
// at BEGIN. Concurrent claims serialize behind busy_timeout and still receive
// disjoint batches. Use it for local runs, tests and single-node deployments.
package sqlite

// Package postgres provides the PostgreSQL dialect for dbqueue, using the pgx stdlib driver.
//
// Claims run at READ COMMITTED with SELECT ... FOR UPDATE SKIP LOCKED, so concurrent
// consumers receive disjoint batches without blocking each other.
package postgres

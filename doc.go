// Package dbqueue provides a message queue whose durability and ordering come from a relational table.
//
// Typical flow:
//  1. Create a queue table with a storage-specific package (see sqlqueue and the postgres, mysql and sqlite dialects).
//  2. Append messages with a Writer, optionally inside a business transaction.
//  3. Run a Consumer: it claims a batch with row-level locking, passes it to a Handler and commits
//     the outcome (delete, retry with backoff, or dead-letter) in the same transaction.
//
// The Handler returns the subset of messages that are still pending. Every message it does not
// return is acknowledged and deleted. Delivery is at-least-once, so handlers must be idempotent.
package dbqueue

package sqlqueue

import (
	"fmt"
	"strings"
)

const messageColumns = "id, payload, enqueued_at, visible_at, attempt_count, status"

type queries struct {
	selectClaimable string
	deleteOne       string
	retryOne        string
	deadOne         string
	countPending    string
	stats           string
	listDead        string
	selectDeadOne   string
	deleteDeadOne   string
	selectDeadIDs   string
	truncate        string
	drop            string
}

func newQueries(d Dialect, table TableName) queries {
	name := table.String()
	lock := ""
	if clause := d.LockClause(); clause != "" {
		lock = " " + clause
	}

	q := queries{
		selectClaimable: fmt.Sprintf(
			"SELECT %s FROM %s WHERE status = ? AND visible_at <= ? ORDER BY visible_at ASC, id ASC LIMIT ?%s",
			messageColumns, name, lock,
		),
		deleteOne:     fmt.Sprintf("DELETE FROM %s WHERE id = ?", name),
		retryOne:      fmt.Sprintf("UPDATE %s SET status = ?, visible_at = ? WHERE id = ?", name),
		deadOne:       fmt.Sprintf("UPDATE %s SET status = ?, visible_at = ? WHERE id = ?", name),
		countPending:  fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status = ?", name),
		stats:         fmt.Sprintf("SELECT status, COUNT(*), MIN(visible_at) FROM %s GROUP BY status", name),
		listDead:      fmt.Sprintf("SELECT %s FROM %s WHERE status = ? ORDER BY id ASC LIMIT ?", messageColumns, name),
		selectDeadOne: fmt.Sprintf("SELECT payload FROM %s WHERE id = ? AND status = ?", name),
		deleteDeadOne: fmt.Sprintf("DELETE FROM %s WHERE id = ? AND status = ?", name),
		selectDeadIDs: fmt.Sprintf("SELECT id FROM %s WHERE status = ? AND visible_at <= ? ORDER BY id ASC LIMIT ?", name),
		truncate:      fmt.Sprintf("DELETE FROM %s", name),
		drop:          fmt.Sprintf("DROP TABLE IF EXISTS %s", name),
	}

	q.selectClaimable = Rebind(d, q.selectClaimable)
	q.deleteOne = Rebind(d, q.deleteOne)
	q.retryOne = Rebind(d, q.retryOne)
	q.deadOne = Rebind(d, q.deadOne)
	q.countPending = Rebind(d, q.countPending)
	q.listDead = Rebind(d, q.listDead)
	q.selectDeadOne = Rebind(d, q.selectDeadOne)
	q.deleteDeadOne = Rebind(d, q.deleteDeadOne)
	q.selectDeadIDs = Rebind(d, q.selectDeadIDs)

	return q
}

// buildMarkInFlight returns the update moving count claimed rows to in-flight.
// Arguments: status, then each id.
func buildMarkInFlight(d Dialect, table TableName, count int) string {
	query := fmt.Sprintf(
		"UPDATE %s SET status = ?, attempt_count = attempt_count + 1 WHERE id IN (%s)",
		table.String(),
		makePlaceholders(count),
	)

	return Rebind(d, query)
}

// buildPurgeDead returns the delete for count dead rows. Arguments: status, then each id.
func buildPurgeDead(d Dialect, table TableName, count int) string {
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE status = ? AND id IN (%s)",
		table.String(),
		makePlaceholders(count),
	)

	return Rebind(d, query)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}

	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

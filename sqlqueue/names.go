package sqlqueue

import "fmt"

// TableName identifies the table backing one queue.
type TableName struct {
	// Schema is optional. For MySQL it names a database.
	Schema string
	Queue  string
}

// NewTableName validates schema and queue names. Only [A-Za-z0-9_] is allowed.
func NewTableName(schema, queue string) (TableName, error) {
	if queue == "" {
		return TableName{}, ErrQueueRequired
	}
	if err := checkName(queue); err != nil {
		return TableName{}, err
	}
	if schema != "" {
		if err := checkName(schema); err != nil {
			return TableName{}, err
		}
	}

	return TableName{Schema: schema, Queue: queue}, nil
}

// String returns schema.queue, or queue alone without a schema.
func (n TableName) String() string {
	if n.Schema == "" {
		return n.Queue
	}

	return n.Schema + "." + n.Queue
}

// Index returns the name of the claim index for this table.
func (n TableName) Index() string {
	return "idx_" + n.Queue + "_claim"
}

func checkName(name string) error {
	for _, r := range name {
		if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}

		return fmt.Errorf("%w: %s", ErrInvalidName, name)
	}

	return nil
}

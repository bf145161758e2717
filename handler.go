package dbqueue

import "context"

// Handler processes a claimed batch.
//
// Handle returns the messages that are still pending and need another attempt.
// Every input message absent from the result is treated as processed and deleted.
// Returning an error aborts the cycle: the claim transaction is rolled back and
// the messages are left exactly as they were before the claim.
type Handler interface {
	Handle(ctx context.Context, messages []Message) ([]Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, messages []Message) ([]Message, error)

// Handle implements Handler.
func (fn HandlerFunc) Handle(ctx context.Context, messages []Message) ([]Message, error) {
	return fn(ctx, messages)
}

// EachFunc adapts a per-message function to Handler. A message whose call returns
// an error stays pending, a nil error acknowledges it.
type EachFunc func(ctx context.Context, msg Message) error

// Handle implements Handler.
func (fn EachFunc) Handle(ctx context.Context, messages []Message) ([]Message, error) {
	var pending []Message
	for _, msg := range messages {
		if err := fn(ctx, msg); err != nil {
			pending = append(pending, msg)
		}
	}

	return pending, nil
}

package dbqueue

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunConsumers runs each consumer in its own goroutine until ctx is canceled or one
// of them fails. The first failure cancels the others and is returned.
func RunConsumers(ctx context.Context, consumers ...*Consumer) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, consumer := range consumers {
		consumer := consumer
		group.Go(func() error {
			return consumer.Run(ctx)
		})
	}

	return group.Wait()
}

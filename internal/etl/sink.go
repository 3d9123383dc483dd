package etl

import "context"

// Sink receives orders after their batch has committed. Sink errors do not
// undo the load.
type Sink interface {
	Name() string
	OrdersLoaded(ctx context.Context, orders []LoadedOrder) error
}

package cart

import "context"

type Repository interface {
	Get(ctx context.Context, shopperID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
}

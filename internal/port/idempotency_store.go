package port

import "context"

type IdempotencyStore interface {
	// Claim sets a marker for the key, returns false if already claimed
	Claim(ctx context.Context, key string) (bool, error)

	// Release removes a marker so the unit of work can be attempted again
	Release(ctx context.Context, key string) error
}

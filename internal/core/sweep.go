package core

import "context"

// ExpiredPurger is implemented by cache backends that keep expired entries until they are
// read. Redis expires keys itself and does not implement it.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

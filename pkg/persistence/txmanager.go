package persistence

import "context"

// TxManager runs a function inside a storage transaction. The function
// receives a transaction-bound context that must be used for every store
// operation that should be part of the transaction.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(txCtx context.Context) (any, error)) (any, error)
}

// TxChecker reports whether the given context carries an active transaction.
type TxChecker interface {
	InTransaction(ctx context.Context) bool
}

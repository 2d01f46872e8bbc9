package repository

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle. Repositories accept nil (NoTX) for the
// non-transactional path.
type Tx interface{}

var NoTX Tx

// TransactionManager executes fn within a database transaction, passing the
// handle to fn. Repository calls inside fn must receive that handle so they
// join the same unit of work. fn returning an error rolls everything back.
//
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
//		item, err := stock.Take(ctx, tx, id)
//		...
//		return sold.Insert(ctx, tx, acc)
//	})
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}

type commitHooksKey struct{}

type commitHooks struct {
	mu  sync.Mutex
	fns []func()
}

func (h *commitHooks) run() {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// WithCommitHooks returns a context that collects AfterCommit callbacks and
// the function a TransactionManager calls once its commit succeeded.
func WithCommitHooks(ctx context.Context) (context.Context, func()) {
	h := &commitHooks{}
	return context.WithValue(ctx, commitHooksKey{}, h), h.run
}

// AfterCommit defers fn until the transaction carried by ctx commits; a
// rollback drops it. Without a transaction in ctx fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	if h, ok := ctx.Value(commitHooksKey{}).(*commitHooks); ok {
		h.mu.Lock()
		h.fns = append(h.fns, fn)
		h.mu.Unlock()
		return
	}
	fn()
}

package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc is executed within a Firestore transaction. It may run more than once on contention, so
// it must not have side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	timeout  time.Duration
	readOnly bool
}

func defaultTxSettings() txSettings {
	return txSettings{attempts: 5, timeout: 15 * time.Second}
}

// WithTxAttempts overrides how many times Firestore retries a contended transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction including retries.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithTxReadOnly runs a consistent multi-document read without taking write locks.
func WithTxReadOnly() TxOption {
	return func(s *txSettings) { s.readOnly = true }
}

func (s txSettings) firestoreOptions() []firestore.TransactionOption {
	opts := []firestore.TransactionOption{firestore.MaxAttempts(s.attempts)}
	if s.readOnly {
		opts = append(opts, firestore.ReadOnly)
	}
	return opts
}

// RunTransaction executes fn in a transaction on client. Errors returned by fn abort the
// transaction and come back through WrapError, so typed conflicts survive.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	switch {
	case client == nil:
		return WrapError("transaction", errors.New("firestore: client is nil"))
	case fn == nil:
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	settings := defaultTxSettings()
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	// Only tighten the caller's deadline, never extend it.
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > settings.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.timeout)
		defer cancel()
	}

	return WrapError("transaction", client.RunTransaction(ctx, fn, settings.firestoreOptions()...))
}

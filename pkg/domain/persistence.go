package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateNorm(Norm) (Norm, error)
	UpdateNorm(id int64, mutator func(*Norm) error) (Norm, error)
	CreateCase(Case) (Case, error)
	UpdateCase(id int64, mutator func(*Case) error) (Case, error)
	FindNorm(id int64) (Norm, bool)
	FindCase(id int64) (Case, bool)
}

// TransactionView provides read-only access to snapshot data for rules and
// aggregate readers. Lists are ordered by ascending id.
type TransactionView interface {
	ListNorms() []Norm
	ListCases() []Case
	FindNorm(id int64) (Norm, bool)
	FindCase(id int64) (Case, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetNorm(id int64) (Norm, bool)
	ListNorms() []Norm
	GetCase(id int64) (Case, bool)
	ListCases() []Case
	Close() error
}

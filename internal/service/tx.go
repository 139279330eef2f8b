package service

import "context"

// TxRepositories exposes the repositories bound to one transaction.
type TxRepositories interface {
	Baselines() BaselineRepository
	Packs() PackRepository
	Versions() VersionRepository
}

// TxRunner runs a function inside a database transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}

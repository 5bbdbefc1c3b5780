package diagnostic

import "github.com/pavelanni/boost/internal/store"

// SQLStore runs submissions against the SQLite store.
type SQLStore struct {
	DB *store.Store
}

// WithTx implements Store.
func (s SQLStore) WithTx(fn func(Tx) error) error {
	return s.DB.DiagnosticTx(func(tx *store.ResultTx) error {
		return fn(tx)
	})
}

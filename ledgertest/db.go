package ledgertest

import (
	"testing"

	"github.com/chanledger/chanledger/keychain"
	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/stretchr/testify/require"
)

// MakeTestDB opens a throwaway ledger database that is closed when the test
// finishes.
func MakeTestDB(t testing.TB) *ledgerdb.DB {
	t.Helper()

	db, err := ledgerdb.Open(&ledgerdb.Config{
		DBPath:         t.TempDir(),
		NoFreelistSync: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return db
}

// NewSigner returns a fresh random signer.
func NewSigner(t testing.TB) *keychain.PrivKeyDigestSigner {
	t.Helper()

	signer, err := keychain.GenerateSigner()
	require.NoError(t, err)

	return signer
}

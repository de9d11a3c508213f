package inmemdb_test

import (
	"testing"

	inmemdb "github.com/anquinko/tuition/storage/database/inmem"
	testutil "github.com/anquinko/tuition/tests"
)

func Test_ledgerStore(t *testing.T) {
	db := inmemdb.Open()
	testutil.RunLedgerStoreTests(t, inmemdb.NewUserRepository(db), inmemdb.NewCatalogRepository(db), inmemdb.NewLedgerStore(db))
}

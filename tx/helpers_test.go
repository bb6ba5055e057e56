package tx_test

import (
	"testing"
	"time"

	"bufferdb/buffer"
	"bufferdb/file"
	"bufferdb/log"
	"bufferdb/tx"
	"bufferdb/tx/concurrency"

	"github.com/stretchr/testify/require"
)

type testDB struct {
	fm     *file.Manager
	lm     *log.Manager
	bm     *buffer.Manager
	waiter *tx.PinWaiter
	lt     *concurrency.LockTable
}

func newTestDB(t *testing.T, numBuffers int, lockWait, pinWait time.Duration) *testDB {
	t.Helper()
	fm, err := file.NewManager(t.TempDir(), 400)
	require.NoError(t, err, "Error initializing file manager")
	t.Cleanup(func() { _ = fm.Close() })

	lm, err := log.NewManager(fm, "logfile")
	require.NoError(t, err, "Error initializing log manager")

	bm := buffer.NewManagerWithReplacementStrategy(fm, lm, numBuffers, buffer.NewLRUStrategy())
	return &testDB{
		fm:     fm,
		lm:     lm,
		bm:     bm,
		waiter: tx.NewPinWaiter(bm, pinWait),
		lt:     concurrency.NewLockTable(lockWait),
	}
}

func (db *testDB) newTx(t *testing.T) *tx.Transaction {
	t.Helper()
	txn, err := tx.NewTransaction(db.fm, db.lm, db.waiter, db.lt)
	require.NoError(t, err)
	return txn
}

package sequencer

import (
	"testing"
	"time"

	"dispute-rollup/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queueTx(id string, priority int, gasPrice uint64, ts time.Time) *common.Tx {
	return &common.Tx{
		TxID:      id,
		Type:      common.TxTypeVoteCast,
		Sender:    "sender-" + id,
		Timestamp: ts,
		Priority:  priority,
		GasPrice:  gasPrice,
	}
}

func TestTxQueueOrdering(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	q := newTxQueue()

	// submission order is deliberately scrambled
	q.Push(queueTx("low-late", 0, 100, t0.Add(3*time.Second)))
	q.Push(queueTx("high", 10, 1, t0.Add(9*time.Second)))
	q.Push(queueTx("low-early", 0, 100, t0))
	q.Push(queueTx("low-richer", 0, 500, t0.Add(5*time.Second)))

	want := []string{"high", "low-richer", "low-early", "low-late"}
	for _, id := range want {
		item := q.Pop()
		require.NotNil(t, item)
		assert.Equal(t, id, item.tx.TxID)
	}
	assert.Nil(t, q.Pop())
}

func TestTxQueueInsertionOrderTieBreak(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	q := newTxQueue()
	// identical ranking fields: insertion order decides
	q.Push(queueTx("first", 5, 100, t0))
	q.Push(queueTx("second", 5, 100, t0))
	q.Push(queueTx("third", 5, 100, t0))

	assert.Equal(t, "first", q.Pop().tx.TxID)
	assert.Equal(t, "second", q.Pop().tx.TxID)
	assert.Equal(t, "third", q.Pop().tx.TxID)
}

func TestTxQueuePushBackKeepsPlace(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	q := newTxQueue()
	q.Push(queueTx("a", 5, 100, t0))
	q.Push(queueTx("b", 5, 100, t0))

	item := q.Pop()
	require.Equal(t, "a", item.tx.TxID)
	// deferring "a" must not demote it behind "b"
	q.PushBack(item)
	assert.Equal(t, "a", q.Pop().tx.TxID)
	assert.Equal(t, "b", q.Pop().tx.TxID)
}

func TestTxQueueSnapshot(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	q := newTxQueue()
	q.Push(queueTx("base", 0, 100, t0))
	q.Push(queueTx("urgent", 10, 100, t0.Add(time.Second)))

	snapshot := q.Snapshot()
	require.Equal(t, 2, len(snapshot))
	assert.Equal(t, "urgent", snapshot[0].TxID)
	assert.Equal(t, "base", snapshot[1].TxID)
	// snapshot does not consume the queue
	assert.Equal(t, 2, q.Len())
}

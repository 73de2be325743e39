package sequencer

import (
	"container/heap"
	"sort"

	"dispute-rollup/common"
)

// queuedTx wraps a pool transaction with its insertion sequence number.  The
// sequence number is the final ordering tie break and survives gas limit
// push backs, so a transaction never loses its place by being deferred to
// the next block.
type queuedTx struct {
	tx  *common.Tx
	seq uint64
}

// lessQueued ranks by descending priority, then descending gas price, then
// ascending timestamp, then insertion order
func lessQueued(a, b *queuedTx) bool {
	if a.tx.Priority != b.tx.Priority {
		return a.tx.Priority > b.tx.Priority
	}
	if a.tx.GasPrice != b.tx.GasPrice {
		return a.tx.GasPrice > b.tx.GasPrice
	}
	if !a.tx.Timestamp.Equal(b.tx.Timestamp) {
		return a.tx.Timestamp.Before(b.tx.Timestamp)
	}
	return a.seq < b.seq
}

// txHeap implements heap.Interface over queuedTx
type txHeap []*queuedTx

func (h txHeap) Len() int           { return len(h) }
func (h txHeap) Less(i, j int) bool { return lessQueued(h[i], h[j]) }
func (h txHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *txHeap) Push(x interface{}) {
	*h = append(*h, x.(*queuedTx))
}

func (h *txHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// txQueue is the sequencer's priority ordered transaction pool
type txQueue struct {
	heap txHeap
	seq  uint64
}

func newTxQueue() *txQueue {
	q := &txQueue{heap: txHeap{}}
	heap.Init(&q.heap)
	return q
}

// Push inserts a newly submitted transaction
func (q *txQueue) Push(tx *common.Tx) {
	heap.Push(&q.heap, &queuedTx{tx: tx, seq: q.seq})
	q.seq++
}

// Pop removes and returns the highest ranked transaction, nil when empty
func (q *txQueue) Pop() *queuedTx {
	if len(q.heap) == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*queuedTx)
}

// PushBack reinserts a popped transaction keeping its original sequence
// number
func (q *txQueue) PushBack(item *queuedTx) {
	heap.Push(&q.heap, item)
}

func (q *txQueue) Len() int {
	return len(q.heap)
}

// Snapshot returns copies of the queued transactions in ranking order
func (q *txQueue) Snapshot() []common.Tx {
	items := make([]*queuedTx, len(q.heap))
	copy(items, q.heap)
	sort.Slice(items, func(i, j int) bool {
		return lessQueued(items[i], items[j])
	})
	txs := make([]common.Tx, len(items))
	for i, item := range items {
		txs[i] = *item.tx
	}
	return txs
}

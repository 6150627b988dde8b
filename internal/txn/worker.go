package txn

// Worker drives a fixed batch of transactions to completion on its own
// goroutine and reports how many committed (spec §4.8's
// TransactionWorker, grounded on original_source/lstore/
// transaction_worker.py: a worker owns one list of transactions, runs
// them to completion, and is joined for a commit count).
type Worker struct {
	transactions []*Transaction
	done         chan struct{}
	committed    int
}

// NewWorker creates a worker over transactions, none of which have run yet.
func NewWorker(transactions []*Transaction) *Worker {
	return &Worker{transactions: transactions, done: make(chan struct{})}
}

// AddTransaction appends a transaction to run, must be called before Run.
func (w *Worker) AddTransaction(tx *Transaction) {
	w.transactions = append(w.transactions, tx)
}

// Run starts executing every queued transaction in order on a new
// goroutine and returns immediately.
func (w *Worker) Run() {
	go func() {
		for _, tx := range w.transactions {
			if tx.Run() {
				w.committed++
			}
		}
		close(w.done)
	}()
}

// Join blocks until every queued transaction has completed and returns
// how many committed.
func (w *Worker) Join() int {
	<-w.done
	return w.committed
}

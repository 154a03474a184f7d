package dom

// Record is a single childList change: the nodes added and removed under one
// parent. Order inside Added follows delivery order.
type Record struct {
	Added   []Node
	Removed []Node
}

// Batch is the unit handed to the engine. One batch = all records collected
// during a single debounce window (live) or one replay step (in-memory).
type Batch struct {
	ID        string   // UUIDv7
	PageID    string   // stable identifier provided by caller
	PageURL   string   // address the page was opened at
	Seq       uint64   // monotonically increasing per page
	Records   []Record // in delivery order
	Timestamp int64    // epoch milliseconds at flush
}

// AddedCount returns the number of added nodes across all records.
func (b *Batch) AddedCount() int {
	n := 0
	for _, r := range b.Records {
		n += len(r.Added)
	}
	return n
}

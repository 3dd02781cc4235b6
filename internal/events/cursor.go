package events

// Cursor is the next block a query has not scanned yet.
type Cursor uint64

// ShouldFetch reports whether the chain has reached the cursor.
func (c Cursor) ShouldFetch(head uint64) bool {
	return head >= uint64(c)
}

// Advance returns the cursor after a successful scan of [c, head]. It never
// moves backwards.
func (c Cursor) Advance(head uint64) Cursor {
	if next := Cursor(head + 1); next > c {
		return next
	}
	return c
}

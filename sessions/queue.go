package sessions

// approvalQueue is the FIFO of join requests awaiting a host decision.
// Decisions reference a specific client, so removal by key is supported
// anywhere in the queue, preserving the relative order of the rest.
//
// Not safe for concurrent use; the owning Session's lock serializes access.
type approvalQueue struct {
	ids []string
}

// enqueue appends id unless it is already queued.
func (q *approvalQueue) enqueue(id string) {
	for _, queued := range q.ids {
		if queued == id {
			return
		}
	}
	q.ids = append(q.ids, id)
}

// remove deletes id from the queue wherever it sits. Returns false if id was
// not queued.
func (q *approvalQueue) remove(id string) bool {
	for i, queued := range q.ids {
		if queued == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			return true
		}
	}
	return false
}

func (q *approvalQueue) contains(id string) bool {
	for _, queued := range q.ids {
		if queued == id {
			return true
		}
	}
	return false
}

func (q *approvalQueue) len() int { return len(q.ids) }

// snapshot returns the queued ids oldest-first.
func (q *approvalQueue) snapshot() []string {
	return append([]string(nil), q.ids...)
}

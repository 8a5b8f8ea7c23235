package sched

// queue is an intrusive FIFO of tasks linked through Task.next.
type queue struct {
	head, tail *Task
	len        int
}

func (q *queue) push(t *Task) {
	t.next = nil
	if q.tail == nil {
		q.head = t
	} else {
		q.tail.next = t
	}
	q.tail = t
	q.len++
}

func (q *queue) pop() *Task {
	t := q.head
	if t == nil {
		return nil
	}

	q.head = t.next
	if q.head == nil {
		q.tail = nil
	}
	t.next = nil
	q.len--
	return t
}

package call

import "sync"

// serialQueue выполняет задачи участника строго по очереди в отдельной горутине.
// Очередь не ограничена: кандидаты и описания не теряются.
type serialQueue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Submit ставит задачу в очередь. После Close задачи отбрасываются.
func (q *serialQueue) Submit(task func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Close останавливает очередь. Ожидающие задачи отбрасываются,
// выполняющаяся задача доработает сама.
func (q *serialQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.tasks = nil
	q.mu.Unlock()
	close(q.done)
}

func (q *serialQueue) run() {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
			case <-q.done:
			}
			continue
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		task()
	}
}

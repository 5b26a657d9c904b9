package call

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialQueueOrder(t *testing.T) {
	q := newSerialQueue()
	defer q.Close()

	var (
		mu  sync.Mutex
		got []int
	)
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, q.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 99 {
				close(done)
			}
		}))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue did not drain")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSerialQueueCloseDropsPending(t *testing.T) {
	q := newSerialQueue()
	block := make(chan struct{})
	started := make(chan struct{})
	ran := make(chan struct{}, 1)

	q.Submit(func() {
		close(started)
		<-block
	})
	q.Submit(func() { ran <- struct{}{} })

	<-started
	q.Close()
	close(block)

	assert.False(t, q.Submit(func() {}))
	select {
	case <-ran:
		t.Fatal("pending task ran after close")
	case <-time.After(50 * time.Millisecond):
	}
}

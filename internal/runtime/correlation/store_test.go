package correlation

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/replybridge/internal/runtime/logging"
	"github.com/drblury/replybridge/internal/runtime/metrics"
)

func TestStoreFindIsDestructive(t *testing.T) {
	store := NewStore[*message.Message]("replies")
	reply := message.NewMessage("m-1", []byte("pong"))

	store.Store("k", reply)
	assert.Equal(t, 1, store.Len())

	got, ok := store.Find("k")
	require.True(t, ok)
	assert.Same(t, reply, got)

	_, ok = store.Find("k")
	assert.False(t, ok)
	assert.Zero(t, store.Len())
}

func TestStoreNilValueIsDropped(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewSlogServiceLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	m := metrics.New(prometheus.NewRegistry())
	store := NewStore[*message.Message]("replies", WithStoreLogger(logger), WithStoreMetrics(m))

	store.Store("k", nil)

	_, ok := store.Find("k")
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "key=k")
	assert.Contains(t, buf.String(), "store=replies")
	assert.Equal(t, uint64(1), m.GetStoreStats("replies").Dropped)
}

func TestStoreNilKinds(t *testing.T) {
	assert.True(t, isNil(nil))
	assert.True(t, isNil((*int)(nil)))
	assert.True(t, isNil(map[string]string(nil)))
	assert.True(t, isNil([]byte(nil)))
	assert.True(t, isNil((func())(nil)))
	assert.False(t, isNil(""))
	assert.False(t, isNil(0))
	assert.False(t, isNil([]byte{}))
}

func TestStoreLastStoreWins(t *testing.T) {
	store := NewStore[string]("addresses")
	store.Store("k", "first")
	store.Store("k", "second")

	got, ok := store.Find("k")
	require.True(t, ok)
	assert.Equal(t, "second", got)
	assert.Zero(t, store.Len())
}

func TestStoreConcurrentDistinctKeys(t *testing.T) {
	const workers = 64

	for run := 0; run < 20; run++ {
		store := NewStore[string]("replies")
		var wg sync.WaitGroup
		errs := make(chan string, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := fmt.Sprintf("key-%d", i)
				value := fmt.Sprintf("value-%d", i)
				store.Store(key, value)
				got, ok := store.Find(key)
				if !ok || got != value {
					errs <- fmt.Sprintf("%s: got %q (found=%v)", key, got, ok)
				}
			}(i)
		}
		wg.Wait()
		close(errs)

		for msg := range errs {
			t.Error(msg)
		}
		assert.Zero(t, store.Len())
	}
}

func TestStoreChangedIsClosedByStore(t *testing.T) {
	store := NewStore[string]("replies")
	changed := store.Changed()

	select {
	case <-changed:
		t.Fatal("changed closed before any store")
	default:
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		store.Store("k", "v")
	}()

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("changed not closed by store")
	}
	assert.NotEqual(t, changed, store.Changed())
}

func TestStoreNilDoesNotSignalChanged(t *testing.T) {
	store := NewStore[*message.Message]("replies")
	changed := store.Changed()
	store.Store("k", nil)

	select {
	case <-changed:
		t.Fatal("dropped value must not wake waiters")
	default:
	}
}

func TestStoreClear(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	store := NewStore[string]("replies", WithStoreMetrics(m))
	store.Store("a", "1")
	store.Store("b", "2")
	assert.Equal(t, "replies", store.Name())
	assert.Equal(t, 2, m.GetStoreStats("replies").Pending)

	store.Clear()
	assert.Zero(t, store.Len())
	assert.Zero(t, m.GetStoreStats("replies").Pending)
	_, ok := store.Find("a")
	assert.False(t, ok)
}

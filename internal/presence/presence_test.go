package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct{ id string }

func (f *fakeHandle) ID() string          { return f.id }
func (f *fakeHandle) Send(_ []byte) error { return nil }

func TestSetGetRemove(t *testing.T) {
	r := NewRegistry()
	a := &fakeHandle{id: "c1"}

	assert.Nil(t, r.Set("alice", a))
	h, ok := r.Get("alice")
	require.True(t, ok)
	assert.Same(t, a, h)

	assert.True(t, r.Remove("alice"))
	assert.False(t, r.Remove("alice"))
	_, ok = r.Get("alice")
	assert.False(t, ok)
}

func TestSetLastWriterWins(t *testing.T) {
	r := NewRegistry()
	old := &fakeHandle{id: "old"}
	fresh := &fakeHandle{id: "new"}

	r.Set("alice", old)
	prev := r.Set("alice", fresh)
	assert.Same(t, old, prev)
	assert.Equal(t, 1, r.Len())

	// The orphaned socket disconnecting must not evict the newer login.
	assert.False(t, r.RemoveIf("alice", old))
	h, ok := r.Get("alice")
	require.True(t, ok)
	assert.Same(t, fresh, h)

	assert.True(t, r.RemoveIf("alice", fresh))
	assert.Zero(t, r.Len())
}

func TestSnapshotSortedAndConsistent(t *testing.T) {
	r := NewRegistry()
	names := []string{"carol", "alice", "bob", "dave"}
	handles := map[string]*fakeHandle{}
	for _, n := range names {
		handles[n] = &fakeHandle{id: n}
		r.Set(n, handles[n])
	}
	assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, r.Snapshot())

	r.RemoveIf("bob", handles["bob"])
	assert.Equal(t, []string{"alice", "carol", "dave"}, r.Snapshot())
	assert.Equal(t, 3, r.Len())
}

func TestOnChangeFiresPerMutation(t *testing.T) {
	r := NewRegistry()
	var got [][]string
	r.OnChange(func(online []string) {
		// Re-entrant read must not deadlock.
		_ = r.Len()
		got = append(got, online)
	})

	a := &fakeHandle{id: "a"}
	r.Set("alice", a)
	r.Set("bob", &fakeHandle{id: "b"})
	r.Remove("nobody")
	r.RemoveIf("alice", &fakeHandle{id: "other"})
	r.RemoveIf("alice", a)

	assert.Equal(t, [][]string{
		{"alice"},
		{"alice", "bob"},
		{"bob"},
	}, got)
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("user%d", i)
			h := &fakeHandle{id: name}
			r.Set(name, h)
			r.Snapshot()
			if i%2 == 0 {
				r.RemoveIf(name, h)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, r.Len())
}

func TestOnChangeLastCallMatchesRegistry(t *testing.T) {
	r := NewRegistry()
	gate := make(chan struct{})
	entered := make(chan struct{})

	var mu sync.Mutex
	var got [][]string
	first := true
	r.OnChange(func(online []string) {
		mu.Lock()
		block := first
		first = false
		mu.Unlock()
		if block {
			close(entered)
			<-gate
		}
		mu.Lock()
		got = append(got, online)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.Set("alice", &fakeHandle{id: "a"})
	}()
	<-entered

	go func() {
		defer wg.Done()
		r.Set("bob", &fakeHandle{id: "b"})
	}()
	// A slow subscriber must not block readers or the second mutation.
	require.Eventually(t, func() bool { return r.Len() == 2 }, time.Second, time.Millisecond)

	close(gate)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, []string{"alice"}, got[0])
	assert.Equal(t, r.Snapshot(), got[len(got)-1])
	assert.Len(t, got, 2)
}

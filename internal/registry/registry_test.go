package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/learnloop/chatrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	id string
}

func (s *stubConn) ID() string                { return s.id }
func (s *stubConn) Identity() domain.Identity { return "" }
func (s *stubConn) Push([]byte) error         { return nil }
func (s *stubConn) Ready() bool               { return true }
func (s *stubConn) Close(string)              {}

func TestLastConnectionWins(t *testing.T) {
	r := New()
	c1, c2 := &stubConn{id: "c1"}, &stubConn{id: "c2"}

	assert.Nil(t, r.Register("alice", c1))
	prev := r.Register("alice", c2)
	assert.Same(t, c1, prev)

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, c2, got)

	assert.False(t, r.Unregister("alice", c1), "stale unregister must be a no-op")
	got, ok = r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, c2, got)

	assert.True(t, r.Unregister("alice", c2))
	_, ok = r.Lookup("alice")
	assert.False(t, ok)
}

func TestRegisterSameConnectionTwice(t *testing.T) {
	r := New()
	c := &stubConn{id: "c"}
	r.Register("bob", c)
	assert.Nil(t, r.Register("bob", c))
	assert.Equal(t, 1, r.Len())
}

func TestLookupUnknown(t *testing.T) {
	r := New()
	conn, ok := r.Lookup("nobody")
	assert.False(t, ok)
	assert.Nil(t, conn)
	assert.False(t, r.Unregister("nobody", &stubConn{}))
}

func TestIdentitiesAreIndependent(t *testing.T) {
	r := New()
	a, b := &stubConn{id: "a"}, &stubConn{id: "b"}
	r.Register("alice", a)
	r.Register("bob", b)

	assert.False(t, r.Unregister("alice", b))
	assert.Equal(t, 2, r.Len())
	assert.ElementsMatch(t, []domain.Connection{a, b}, r.Snapshot())
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := domain.Identity(fmt.Sprintf("user-%d", i%5))
			c := &stubConn{id: fmt.Sprint(i)}
			r.Register(id, c)
			r.Lookup(id)
			r.Unregister(id, c)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, r.Len(), 5)
}

package ws

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryAssignUpToCapacity(t *testing.T) {
	r := newRegistry(2)

	s1, ok := r.assign(nil, 8080, "127.0.0.1", 1)
	require.True(t, ok)
	require.Equal(t, Handle(1), s1.handle)

	s2, ok := r.assign(nil, 8080, "127.0.0.1", 2)
	require.True(t, ok)
	require.Equal(t, Handle(2), s2.handle)

	_, ok = r.assign(nil, 8080, "127.0.0.1", 3)
	require.False(t, ok, "registry at capacity must refuse a third slot")

	r.release(s1)
	s3, ok := r.assign(nil, 8080, "127.0.0.1", 4)
	require.True(t, ok, "releasing a slot must free capacity for reassignment")
	require.Equal(t, Handle(3), s3.handle, "handle ids are never reused")
}

func TestRegistryLookup(t *testing.T) {
	r := newRegistry(1)
	s, _ := r.assign(nil, 8080, "127.0.0.1", 1)
	s.state = StateOpen

	found, ok := r.lookup(s.handle)
	require.True(t, ok)
	require.Same(t, s, found)

	_, ok = r.lookup(Handle(9999))
	require.False(t, ok)

	_, ok = r.lookup(0)
	require.False(t, ok, "handle zero must never resolve to a slot")
}

func TestRegistryForEachOpenSkipsNonOpen(t *testing.T) {
	r := newRegistry(3)
	s1, _ := r.assign(nil, 8080, "a", 1)
	s1.state = StateOpen
	s2, _ := r.assign(nil, 8080, "b", 2)
	s2.state = StateConnecting
	s3, _ := r.assign(nil, 8080, "c", 3)
	s3.state = StateOpen

	var seen []Handle
	r.forEachOpen(func(s *connSlot) { seen = append(seen, s.handle) })

	require.ElementsMatch(t, []Handle{s1.handle, s3.handle}, seen)
}

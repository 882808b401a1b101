package cache

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityIsNeverExceeded(t *testing.T) {
	var evicted []int
	c := New[int, string]("capacity", 5, func(k int, _ string) { evicted = append(evicted, k) })

	for k := 0; k < 12; k++ {
		c.Put(k, "v")
	}
	assert.Equal(t, 5, c.Len())
	assert.Equal(t, []int{11, 10, 9, 8, 7}, c.Keys())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, evicted)
	assert.Equal(t, 7.0, testutil.ToFloat64(c.Metrics().Evictions))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.Metrics().Resident))
}

func TestAccessProtectsFromEviction(t *testing.T) {
	c := New[int, int]("access", 3, nil)
	c.Put(1, 10)
	c.Put(2, 20)
	c.Put(3, 30)

	v, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, 10, v)

	c.Put(4, 40)
	assert.True(t, c.Contains(1))
	assert.False(t, c.Contains(2))

	assert.True(t, c.Touch(3))
	c.Put(5, 50)
	assert.True(t, c.Contains(3))
	assert.False(t, c.Contains(1))
	assert.Equal(t, []int{5, 3, 4}, c.Keys())

	_, ok = c.Get(2)
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Metrics().Hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Metrics().Misses))
}

func TestPeekKeepsOrder(t *testing.T) {
	c := New[string, int]("peek", 2, nil)
	c.Put("a", 1)
	c.Put("b", 2)
	v, ok := c.Peek("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	c.Put("c", 3)
	assert.False(t, c.Contains("a"))
	assert.Zero(t, testutil.ToFloat64(c.Metrics().Hits))
}

func TestPutReplacesValue(t *testing.T) {
	c := New[int, int]("replace", 2, nil)
	c.Put(1, 1)
	c.Put(2, 2)
	c.Put(1, 100)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []int{1, 2}, c.Keys())
	v, _ := c.Peek(1)
	assert.Equal(t, 100, v)
}

func TestRemoveReusesSlots(t *testing.T) {
	evictions := 0
	c := New[int, int]("remove", 4, func(int, int) { evictions++ })
	for k := 0; k < 4; k++ {
		c.Put(k, k)
	}
	v, ok := c.Remove(2)
	require.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = c.Remove(2)
	assert.False(t, ok)

	c.Put(9, 9)
	assert.Equal(t, 4, c.Len())
	assert.Len(t, c.slots, 4)
	assert.Zero(t, evictions)
	assert.Equal(t, []int{9, 3, 1, 0}, c.Keys())

	c.SetCapacity(2)
	assert.Equal(t, []int{9, 3}, c.Keys())
	assert.Equal(t, 2, evictions)

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Empty(t, c.Keys())
	c.Put(1, 1)
	assert.Equal(t, []int{1}, c.Keys())
}

func TestEachStopsEarly(t *testing.T) {
	c := New[int, int]("each", 10, nil)
	for k := 0; k < 10; k++ {
		c.Put(k, k*k)
	}
	var seen []int
	c.Each(func(k, v int) bool {
		seen = append(seen, v)
		return len(seen) < 3
	})
	assert.Equal(t, []int{81, 64, 49}, seen)
}

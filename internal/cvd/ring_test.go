package cvd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingPushEviction(t *testing.T) {
	r := NewRing[int](3)

	r.Push(1)
	r.Push(2)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []int{1, 2}, r.Last(10))

	r.Push(3)
	r.Push(4) // 淘汰1
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{2, 3, 4}, r.Last(10))

	r.Push(5) // 淘汰2
	assert.Equal(t, []int{3, 4, 5}, r.Last(3))
	assert.Equal(t, []int{4, 5}, r.Last(2))
	assert.Equal(t, 3, r.At(0))
	assert.Equal(t, 5, r.At(2))
}

func TestRingClear(t *testing.T) {
	r := NewRing[string](2)
	r.Push("a")
	r.Push("b")
	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Last(5))

	r.Push("c")
	assert.Equal(t, []string{"c"}, r.Last(5))
}

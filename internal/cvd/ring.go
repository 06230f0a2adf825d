package cvd

// Ring 固定容量环形缓冲区，写满后覆盖最旧元素
type Ring[T any] struct {
	buf   []T
	start int // 最旧元素位置
	size  int
}

// NewRing 创建指定容量的环形缓冲区
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push 追加元素，容量已满时淘汰最旧元素
func (r *Ring[T]) Push(v T) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Len 当前元素数量
func (r *Ring[T]) Len() int {
	return r.size
}

// Cap 缓冲区容量
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// At 返回第i个元素，0为最旧
func (r *Ring[T]) At(i int) T {
	return r.buf[(r.start+i)%len(r.buf)]
}

// Last 返回最近n个元素的副本，不足n个时返回全部，顺序从旧到新
func (r *Ring[T]) Last(n int) []T {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.At(r.size - n + i)
	}
	return out
}

// Clear 清空缓冲区
func (r *Ring[T]) Clear() {
	r.start = 0
	r.size = 0
}

// Package mempool recycles the scratch buffers used while preparing model
// input tensors and labelling detection maps.
package mempool

import "sync"

// classStep is the bucket width in elements. Requests are rounded up to a
// multiple of it so buffers for similarly sized images share a pool.
const classStep = 4096

func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return (n + classStep - 1) / classStep * classStep
}

// Pool hands out zeroed slices of T bucketed by size class.
// The zero value is ready to use.
type Pool[T any] struct {
	classes sync.Map // int -> *sync.Pool of *[]T
}

// Shared pools for the element types the recognizers need.
var (
	Float32 Pool[float32]
	Bool    Pool[bool]
)

func (p *Pool[T]) class(cls int) *sync.Pool {
	if sp, ok := p.classes.Load(cls); ok {
		return sp.(*sync.Pool) //nolint:forcetypeassert // only *sync.Pool is stored
	}
	sp, _ := p.classes.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]T, cls)
		return &buf
	}})
	return sp.(*sync.Pool) //nolint:forcetypeassert // only *sync.Pool is stored
}

// Get returns a zeroed slice of length n. Return it with Put once nothing
// references it any more.
func (p *Pool[T]) Get(n int) []T {
	if n < 0 {
		n = 0
	}
	cls := sizeClass(n)
	bp, _ := p.class(cls).Get().(*[]T)
	if bp == nil || cap(*bp) < cls {
		buf := make([]T, cls)
		return buf[:n]
	}
	buf := (*bp)[:n]
	clear(buf)
	return buf
}

// Put hands buf back. Slices that did not come from Get are accepted as
// long as their capacity is a whole size class; others are dropped.
func (p *Pool[T]) Put(buf []T) {
	c := cap(buf)
	if c == 0 || c%classStep != 0 {
		return
	}
	buf = buf[:c]
	p.class(c).Put(&buf)
}

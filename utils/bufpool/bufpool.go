// Package bufpool implements a size-classed byte buffer pool.  Pools are
// owned by whoever creates them (typically one per cluster) rather than
// living in package level state, so two clusters in one process never share
// buffers.
package bufpool

import "sync"

// DefaultSizes are the size classes used by New when none are given.  Info
// responses are usually small, but partition listings can reach tens of KB.
var DefaultSizes = []int{512, 4 << 10, 32 << 10, 128 << 10}

type Pool struct {
	sizes       []int
	pools       []sync.Pool
	indexBySize map[int]int
}

func New(sizes ...int) *Pool {
	if len(sizes) == 0 {
		sizes = DefaultSizes
	}

	p := &Pool{
		sizes:       sizes,
		pools:       make([]sync.Pool, len(sizes)),
		indexBySize: make(map[int]int, len(sizes)),
	}
	for i, sz := range sizes {
		size := sz
		p.pools[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
		p.indexBySize[size] = i
	}

	return p
}

func (p *Pool) class(n int) int {
	for i, sz := range p.sizes {
		if n <= sz {
			return i
		}
	}
	return -1
}

// Get returns a buffer of length n.  Requests larger than the biggest size
// class are allocated exactly and will not be retained by Put.
func (p *Pool) Get(n int) *[]byte {
	if i := p.class(n); i >= 0 {
		bp := p.pools[i].Get().(*[]byte)
		*bp = (*bp)[:n]
		return bp
	}
	b := make([]byte, n)
	return &b
}

// Put hands a buffer back to the pool.  Buffers whose capacity does not match
// a size class are dropped.
func (p *Pool) Put(bp *[]byte) {
	if bp == nil {
		return
	}
	if i, ok := p.indexBySize[cap(*bp)]; ok {
		*bp = (*bp)[:p.sizes[i]]
		p.pools[i].Put(bp)
	}
}

// Package msgpool pools dnsmsg.Message values and wire-format byte
// buffers to keep the hot query path's GC pressure down, the same
// sync.Pool pattern the teacher applies to *dns.Msg and raw buffers.
package msgpool

import (
	"sync"

	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
)

// MessagePool pools *dnsmsg.Message values.
type MessagePool struct {
	pool sync.Pool
}

// NewMessagePool creates a MessagePool.
func NewMessagePool() *MessagePool {
	return &MessagePool{pool: sync.Pool{New: func() any { return &dnsmsg.Message{} }}}
}

// Get returns a zeroed Message ready for reuse.
func (p *MessagePool) Get() *dnsmsg.Message {
	m := p.pool.Get().(*dnsmsg.Message)
	m.Reset()
	return m
}

// Put returns m to the pool. Callers must not retain m afterward.
func (p *MessagePool) Put(m *dnsmsg.Message) {
	if m == nil {
		return
	}
	p.pool.Put(m)
}

// Buffer sizes mirror the three common DNS wire-message tiers: a plain
// UDP response without EDNS0, an EDNS0-sized UDP response, and a TCP/TLS
// length-prefixed message at the protocol maximum.
const (
	SmallBufferSize  = 512
	MediumBufferSize = 4096
	LargeBufferSize  = 65535
)

// BufferPool pools []byte buffers across the three standard DNS size
// tiers, dispatching Get by requested capacity.
type BufferPool struct {
	small, medium, large sync.Pool
}

// NewBufferPool creates a BufferPool.
func NewBufferPool() *BufferPool {
	bp := &BufferPool{}
	bp.small.New = func() any { b := make([]byte, SmallBufferSize); return &b }
	bp.medium.New = func() any { b := make([]byte, MediumBufferSize); return &b }
	bp.large.New = func() any { b := make([]byte, LargeBufferSize); return &b }
	return bp
}

// Get returns a buffer with length >= size.
func (bp *BufferPool) Get(size int) []byte {
	switch {
	case size <= SmallBufferSize:
		b := bp.small.Get().(*[]byte)
		return (*b)[:SmallBufferSize]
	case size <= MediumBufferSize:
		b := bp.medium.Get().(*[]byte)
		return (*b)[:MediumBufferSize]
	default:
		b := bp.large.Get().(*[]byte)
		return (*b)[:LargeBufferSize]
	}
}

// Put returns buf to its size-appropriate pool.
func (bp *BufferPool) Put(buf []byte) {
	c := cap(buf)
	switch {
	case c == SmallBufferSize:
		b := buf[:SmallBufferSize]
		bp.small.Put(&b)
	case c == MediumBufferSize:
		b := buf[:MediumBufferSize]
		bp.medium.Put(&b)
	case c == LargeBufferSize:
		b := buf[:LargeBufferSize]
		bp.large.Put(&b)
	}
}

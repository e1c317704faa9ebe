package lib

import (
	"fmt"
	"log/slog"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

// Payload is one pooled chunk buffer. File chunks arriving before the sink
// has opened are staged in these instead of fresh allocations per frame.
type Payload struct {
	payloadBytes []byte
	length       int
}

// NewPayload is the ring pool element factory. params carries exactly one
// value: the buffer length in bytes.
func NewPayload(params ...interface{}) rp.DataInterface {
	if len(params) != 1 {
		slog.Default().Error("NewPayload: want exactly one parameter (buffer length)", "got", len(params))
		return nil
	}
	length, ok := params[0].(int)
	if !ok || length <= 0 {
		slog.Default().Error("NewPayload: buffer length must be a positive int", "got", params[0])
		return nil
	}
	return &Payload{payloadBytes: make([]byte, length)}
}

func (p *Payload) SetContent(s string) {
	p.payloadBytes = []byte(s)
	p.length = len(s)
}

// Reset clears the logical content. The backing array is reused as-is;
// Copy overwrites it before the next read.
func (p *Payload) Reset() {
	p.length = 0
}

// PrintContent is the ring pool's debug hook.
func (p *Payload) PrintContent() {
	fmt.Printf("chunk buffer: %d bytes\n", p.length)
}

func (p *Payload) Copy(src []byte) error {
	if len(src) > len(p.payloadBytes) {
		return fmt.Errorf("payload copy: source (%d bytes) exceeds buffer length (%d)", len(src), len(p.payloadBytes))
	}
	if len(src) == 0 {
		return fmt.Errorf("payload copy: source is empty")
	}
	copy(p.payloadBytes, src)
	p.length = len(src)
	return nil
}

func (p *Payload) GetSlice() []byte {
	return p.payloadBytes[:p.length]
}

// ChunkPool hands out staging buffers for inbound binary frames. Frames
// that do not fit a pool element, and frames arriving while the pool is
// drained, fall back to plain allocations so the transfer never stalls on
// pool pressure. outstanding is tracked here because the ring blocks when
// empty; Stage must never block the event loop.
type ChunkPool struct {
	ring        *rp.RingPool
	poolSize    int
	bufferSize  int
	outstanding int
}

func NewChunkPool(poolSize, bufferSize int, debug bool) *ChunkPool {
	rp.Debug = debug
	ring := rp.NewRingPool("KairosLink: ", poolSize, NewPayload, bufferSize)
	return &ChunkPool{ring: ring, poolSize: poolSize, bufferSize: bufferSize}
}

// stagedChunk is one buffered frame: a pooled element, or a plain copy when
// the pool could not serve the frame.
type stagedChunk struct {
	elem *rp.Element
	data []byte
}

func (c stagedChunk) bytes() []byte {
	if c.elem != nil {
		return c.elem.Data.(*Payload).GetSlice()
	}
	return c.data
}

// Stage copies frame into a staging buffer. The frame slice may be reused
// by the caller immediately after Stage returns.
func (p *ChunkPool) Stage(frame []byte) stagedChunk {
	if len(frame) == 0 || len(frame) > p.bufferSize || p.outstanding >= p.poolSize {
		return stagedChunk{data: append([]byte(nil), frame...)}
	}
	elem := p.ring.GetElement()
	if elem == nil {
		return stagedChunk{data: append([]byte(nil), frame...)}
	}
	p.outstanding++
	if err := elem.Data.(*Payload).Copy(frame); err != nil {
		p.Release(stagedChunk{elem: elem})
		return stagedChunk{data: append([]byte(nil), frame...)}
	}
	return stagedChunk{elem: elem}
}

// Release returns a staged chunk's buffer to the pool. Plain-allocation
// chunks are left to the garbage collector.
func (p *ChunkPool) Release(c stagedChunk) {
	if c.elem != nil {
		c.elem.Data.(*Payload).Reset()
		p.ring.ReturnElement(c.elem)
		p.outstanding--
	}
}

package processor

import (
	"context"
	"net"

	"github.com/sqlited/sqlited/internal/srverr"
)

// growReadBuffer doubles the read buffer's capacity (capped at
// MaxReadBuffer) until at least need more bytes fit past readLen, per
// spec.md §4.4's read-side growth description.
func (p *Processor) growReadBuffer(need int) error {
	for len(p.readBuf)-p.readLen < need {
		if len(p.readBuf) >= p.Tunables.MaxReadBuffer {
			return srverr.New(srverr.KindProtocolError, "command frame exceeds max read buffer (%d bytes)", p.Tunables.MaxReadBuffer)
		}
		next := len(p.readBuf) * 2
		if next > p.Tunables.MaxReadBuffer {
			next = p.Tunables.MaxReadBuffer
		}
		grown := make([]byte, next)
		copy(grown, p.readBuf[:p.readLen])
		p.readBuf = grown
	}
	return nil
}

// shrinkReadBuffer restores the read buffer to InitReadBuffer once it has
// grown past that size and is fully drained, per spec.md §4.4.
func (p *Processor) shrinkReadBuffer() {
	if p.readLen == 0 && len(p.readBuf) > p.Tunables.InitReadBuffer {
		p.readBuf = make([]byte, p.Tunables.InitReadBuffer)
	}
}

// fillRead reads one chunk off the wire into the read buffer, growing it
// first if it is already full, and honors ctx's deadline the way the
// teacher's transport layer applies one to net.Conn before a blocking
// Read/Write.
func (p *Processor) fillRead(ctx context.Context) (int, error) {
	if p.readLen >= len(p.readBuf) {
		if err := p.growReadBuffer(p.Tunables.InitReadBuffer); err != nil {
			return 0, err
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := p.conn.SetReadDeadline(deadline); err != nil {
			return 0, srverr.Wrap(srverr.KindNetworkError, err, "set read deadline")
		}
	}
	n, err := p.conn.Read(p.readBuf[p.readLen:])
	if err != nil {
		return n, srverr.Wrap(srverr.KindNetworkError, err, "read from %s", p.Name)
	}
	p.readLen += n
	return n, nil
}

// consumeRead drops the first n bytes of the read buffer (the bytes a
// frame decoder just consumed), compacting the remainder to the front and
// shrinking the buffer back down if it is now both empty and oversized.
func (p *Processor) consumeRead(n int) {
	if n <= 0 {
		return
	}
	remaining := p.readLen - n
	if remaining > 0 {
		copy(p.readBuf, p.readBuf[n:p.readLen])
	}
	p.readLen = remaining
	p.shrinkReadBuffer()
}

// queueWrite appends buf to the write queue, merging it into the last
// queued chunk when that stays within MaxWriteBuffer (to reduce syscall
// count, per spec.md §4.4), and transitions to WRITE since a buffer is now
// queued for the worker's I/O pass to flush.
func (p *Processor) queueWrite(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if n := len(p.writeQueue); n > 0 {
		last := p.writeQueue[n-1]
		if len(last)+len(buf) <= p.Tunables.MaxWriteBuffer {
			p.writeQueue[n-1] = append(last, buf...)
			p.setState(StateWrite)
			return nil
		}
	}
	if len(p.writeQueue) >= p.Tunables.MaxWriteQueue {
		return srverr.New(srverr.KindIOError, "write queue overflow on %s", p.Name)
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	p.writeQueue = append(p.writeQueue, cp)
	p.setState(StateWrite)
	return nil
}

// flush drains the write queue, bounded by MaxWriteTimes write attempts per
// call so one flush never monopolizes the worker's I/O pass. If a write
// stalls partway (a deadline expires mid-write, signalled by a net.Error
// with Timeout() true and a non-zero byte count), the unsent remainder is
// re-queued at the front and flush returns drained = false so the caller
// parks the processor in SLEEP pending write-readiness, per spec.md §4.4.
func (p *Processor) flush(ctx context.Context) (drained bool, err error) {
	attempts := 0
	for len(p.writeQueue) > 0 && attempts < p.Tunables.MaxWriteTimes {
		attempts++
		buf := p.writeQueue[0]

		if deadline, ok := ctx.Deadline(); ok {
			if err := p.conn.SetWriteDeadline(deadline); err != nil {
				return false, srverr.Wrap(srverr.KindNetworkError, err, "set write deadline")
			}
		}

		n, werr := p.conn.Write(buf)
		if werr != nil {
			if n > 0 && n < len(buf) && isTimeout(werr) {
				p.writeQueue[0] = buf[n:]
				p.setState(StateSleep)
				return false, nil
			}
			return false, srverr.Wrap(srverr.KindNetworkError, werr, "write to %s", p.Name)
		}

		p.writeQueue = p.writeQueue[1:]
	}

	if len(p.writeQueue) == 0 {
		return true, nil
	}
	// MaxWriteTimes exhausted with data still queued: yield to the worker's
	// scheduler rather than hogging this pass; resumed on the next I/O pass.
	return false, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// pendingWrites reports whether anything is queued to send, used by the
// worker to decide whether this processor's channel needs OP_WRITE
// interest registered.
func (p *Processor) pendingWrites() bool {
	return len(p.writeQueue) > 0
}

// ReadRaw reads one chunk directly off the wire with no deadline and no
// buffer bookkeeping. It exists for internal/worker's per-connection
// reader pump goroutine: the pump's only job is fanning raw bytes in over
// a channel, so it never touches readBuf/readLen and the invariant that
// exactly one goroutine (the owning Worker's) ever calls any other
// Processor method still holds.
func (p *Processor) ReadRaw(buf []byte) (int, error) {
	return p.conn.Read(buf)
}

// AppendRead merges pump-delivered bytes into the read buffer, growing it
// first if needed. Must only be called from the Worker goroutine that owns
// this Processor.
func (p *Processor) AppendRead(data []byte) error {
	if err := p.growReadBuffer(len(data)); err != nil {
		return err
	}
	copy(p.readBuf[p.readLen:], data)
	p.readLen += len(data)
	return nil
}

// PeekRead returns the currently-buffered, not-yet-consumed read bytes for
// a FrameDecoder to scan.
func (p *Processor) PeekRead() []byte {
	return p.readBuf[:p.readLen]
}

// ConsumeReadN is consumeRead exported for internal/worker.
func (p *Processor) ConsumeReadN(n int) {
	p.consumeRead(n)
}

// QueueWrite is queueWrite exported for internal/worker.
func (p *Processor) QueueWrite(buf []byte) error {
	return p.queueWrite(buf)
}

// Flush is flush exported for internal/worker; it discards the drained
// bool since the worker only needs to know about a hard error.
func (p *Processor) Flush(ctx context.Context) error {
	_, err := p.flush(ctx)
	return err
}

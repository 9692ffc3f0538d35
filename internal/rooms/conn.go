package rooms

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/example/delivery-tracking/internal/models"
)

// Conn is the registry's view of one authenticated transport session. The
// transport drains Outbound and writes frames to the wire; the core only
// ever enqueues, so a slow peer can never stall a broadcast.
type Conn struct {
	id       string
	identity models.Identity

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// NewConn creates a session whose outbound queue holds up to buffer frames.
func NewConn(id string, identity models.Identity, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 1
	}
	return &Conn{
		id:       id,
		identity: identity,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Identity is fixed for the lifetime of the connection.
func (c *Conn) Identity() models.Identity { return c.identity }

func (c *Conn) Outbound() <-chan []byte { return c.send }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Dropped counts frames discarded because the outbound queue was full.
func (c *Conn) Dropped() int64 { return c.dropped.Load() }

// Close is idempotent. It does not detach the connection from rooms; the
// owner must call Registry.Detach.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Enqueue queues a frame without blocking. It reports false if the frame was
// dropped, either because the queue is full or the connection is closed.
func (c *Conn) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// ErrFrameDropped is returned by Send when the frame could not be queued.
var ErrFrameDropped = errors.New("frame dropped: outbound queue full or connection closed")

// Send encodes ev and queues it for this connection only.
func (c *Conn) Send(ev models.Event) error {
	frame, err := ev.Encode()
	if err != nil {
		return err
	}
	if !c.Enqueue(frame) {
		return ErrFrameDropped
	}
	return nil
}

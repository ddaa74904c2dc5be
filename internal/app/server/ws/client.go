package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client is the live-connection handle registered with the connection
// registry: one user identity, one buffered outbound queue, one write
// loop. The write loop also owns keepalive pings.
type Client struct {
	ctx          context.Context
	cancel       context.CancelFunc
	ws           *WebSocket
	id           uuid.UUID
	userID       int64
	out          chan []byte
	pingInterval time.Duration
	once         sync.Once
}

func NewClient(
	parent context.Context,
	ws *WebSocket,
	userID int64,
	buffer int,
	pingInterval time.Duration,
) *Client {
	ctx, cancel := context.WithCancel(parent)
	c := &Client{
		ctx:          ctx,
		cancel:       cancel,
		ws:           ws,
		id:           uuid.New(),
		userID:       userID,
		out:          make(chan []byte, buffer),
		pingInterval: pingInterval,
	}
	go c.writeLoop()
	return c
}

func (c *Client) UserID() int64 { return c.userID }

// ID identifies the physical connection in logs; user identity alone
// is ambiguous across reconnects.
func (c *Client) ID() string { return c.id.String() }

// Send queues data for the write loop. It never blocks on a slow
// peer: a full queue is reported as a failed write so the router can
// evict the consumer.
func (c *Client) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) Close() {
	c.once.Do(func() {
		c.cancel()
		c.ws.Close()
	})
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	defer c.Close()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.out:
			if err := c.ws.WriteMessage(data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WritePing(); err != nil {
				return
			}
		}
	}
}

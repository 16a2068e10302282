package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hmibridge/internal/protocol"
)

// Conn is the renderer end of the bus.
type Conn struct {
	c *websocket.Conn

	wmu sync.Mutex
}

func Dial(ctx context.Context, url string) (*Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{c: c}, nil
}

func (c *Conn) Close() error {
	c.wmu.Lock()
	_ = c.c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.c.Close()
}

// SendMessage encodes m and sends it as a binaryMessage envelope.
func (c *Conn) SendMessage(m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return c.SendBinary(b)
}

func (c *Conn) SendBinary(msg []byte) error {
	frame, err := protocol.WrapBinary(msg)
	if err != nil {
		return err
	}
	return c.write(frame)
}

func (c *Conn) SendWorldUpdate(objs protocol.WorldObjects) error {
	frame, err := protocol.WrapWorldUpdate(objs)
	if err != nil {
		return err
	}
	return c.write(frame)
}

func (c *Conn) write(frame []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.c.WriteMessage(websocket.TextMessage, frame)
}

// Next blocks for the next envelope. Only one goroutine may call it.
// Cancelling ctx closes the connection.
func (c *Conn) Next(ctx context.Context) (protocol.Envelope, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.c.Close() })
	defer stop()
	for {
		typ, msg, err := c.c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return protocol.Envelope{}, ctx.Err()
			}
			return protocol.Envelope{}, err
		}
		if typ != websocket.TextMessage {
			continue
		}
		return protocol.DecodeEnvelope(msg)
	}
}

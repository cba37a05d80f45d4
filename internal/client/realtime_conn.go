package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/internal/infrastructure/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var ErrConnectionClosed = errors.New("realtime connection closed")

// RealtimeConn is a client websocket to the realtime gateway. Requests are
// correlated with replies by frame id; pushed messages are delivered on
// Messages.
type RealtimeConn struct {
	ws       *websocket.Conn
	clientID string

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]chan realtime.Frame
	closed  bool

	messages chan *domain.Message
	done     chan struct{}
	err      error
}

// DialRealtime connects with the given credential and waits for the
// gateway's greeting.
func DialRealtime(ctx context.Context, endpoint, token string) (*RealtimeConn, error) {
	if token == "" {
		return nil, domain.ErrNoCredential
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	} else {
		_ = ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	}
	var hello realtime.Frame
	if err := ws.ReadJSON(&hello); err != nil {
		ws.Close()
		return nil, fmt.Errorf("read greeting: %w", err)
	}
	if hello.Action != realtime.ActionConnected {
		ws.Close()
		return nil, fmt.Errorf("unexpected greeting %q: %s", hello.Action, hello.Error)
	}
	_ = ws.SetReadDeadline(time.Time{})

	c := &RealtimeConn{
		ws:       ws,
		clientID: hello.ClientID,
		pending:  make(map[string]chan realtime.Frame),
		messages: make(chan *domain.Message, 256),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// ClientID is the identity the gateway bound to this connection.
func (c *RealtimeConn) ClientID() string {
	return c.clientID
}

// Messages yields pushed channel messages. It is closed with the connection.
func (c *RealtimeConn) Messages() <-chan *domain.Message {
	return c.messages
}

// Done is closed when the connection ends; Err then reports why.
func (c *RealtimeConn) Done() <-chan struct{} {
	return c.done
}

func (c *RealtimeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *RealtimeConn) readLoop() {
	defer close(c.messages)

	for {
		var f realtime.Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			c.shutdown(err)
			return
		}

		if f.ID != "" {
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
			continue
		}

		switch f.Action {
		case realtime.ActionMessage:
			if f.Message == nil {
				continue
			}
			select {
			case c.messages <- f.Message:
			case <-c.done:
				return
			}
		case realtime.ActionError:
			c.shutdown(fmt.Errorf("gateway: %s", f.Error))
			return
		}
	}
}

func (c *RealtimeConn) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.done)
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *RealtimeConn) request(ctx context.Context, f realtime.Frame) (realtime.Frame, error) {
	f.ID = uuid.NewString()
	reply := make(chan realtime.Frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return realtime.Frame{}, ErrConnectionClosed
	}
	c.pending[f.ID] = reply
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.ws.WriteJSON(f)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(f.ID)
		return realtime.Frame{}, fmt.Errorf("write %s: %w", f.Action, err)
	}

	select {
	case r, ok := <-reply:
		if !ok {
			return realtime.Frame{}, ErrConnectionClosed
		}
		if r.Action == realtime.ActionError {
			return r, fmt.Errorf("%s %s: %s", f.Action, f.Channel, r.Error)
		}
		return r, nil
	case <-ctx.Done():
		c.forget(f.ID)
		return realtime.Frame{}, ctx.Err()
	}
}

func (c *RealtimeConn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *RealtimeConn) Attach(ctx context.Context, channel string) error {
	_, err := c.request(ctx, realtime.Frame{Action: realtime.ActionAttach, Channel: channel})
	return err
}

func (c *RealtimeConn) Detach(ctx context.Context, channel string) error {
	_, err := c.request(ctx, realtime.Frame{Action: realtime.ActionDetach, Channel: channel})
	return err
}

// Publish sends msg and returns it as stored by the gateway.
func (c *RealtimeConn) Publish(ctx context.Context, channel string, msg *domain.Message) (*domain.Message, error) {
	r, err := c.request(ctx, realtime.Frame{Action: realtime.ActionPublish, Channel: channel, Message: msg})
	if err != nil {
		return nil, err
	}
	return r.Message, nil
}

func (c *RealtimeConn) History(ctx context.Context, channel string, limit int, direction domain.HistoryDirection) ([]*domain.Message, error) {
	r, err := c.request(ctx, realtime.Frame{
		Action:    realtime.ActionHistory,
		Channel:   channel,
		Limit:     limit,
		Direction: direction,
	})
	if err != nil {
		return nil, err
	}
	return r.Messages, nil
}

func (c *RealtimeConn) Enter(ctx context.Context, channel string) ([]string, error) {
	r, err := c.request(ctx, realtime.Frame{Action: realtime.ActionEnter, Channel: channel})
	if err != nil {
		return nil, err
	}
	return r.Members, nil
}

func (c *RealtimeConn) Leave(ctx context.Context, channel string) error {
	_, err := c.request(ctx, realtime.Frame{Action: realtime.ActionLeave, Channel: channel})
	return err
}

func (c *RealtimeConn) Presence(ctx context.Context, channel string) ([]string, error) {
	r, err := c.request(ctx, realtime.Frame{Action: realtime.ActionPresence, Channel: channel})
	if err != nil {
		return nil, err
	}
	return r.Members, nil
}

func (c *RealtimeConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	c.shutdown(ErrConnectionClosed)
	return c.ws.Close()
}

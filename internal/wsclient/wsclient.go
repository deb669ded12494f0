// Package wsclient wraps a single WebSocket session for the ws flood
// worker. Each session is exclusively owned by the worker that dialed it.
package wsclient

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Config configures a session dial.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Session is one established WebSocket connection.
type Session struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// Dial establishes a WebSocket connection.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return &Session{conn: conn, writeTimeout: cfg.WriteTimeout}, nil
}

// SendBinary writes one binary message under the configured write deadline.
func (s *Session) SendBinary(payload []byte) error {
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, payload)
}

// Close sends a best-effort close frame and tears down the connection.
func (s *Session) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)
	return s.conn.Close()
}

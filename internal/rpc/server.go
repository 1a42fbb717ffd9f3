// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
)

// ServerConn serves the framed RPC protocol on one websocket connection.
// Requests are dispatched concurrently; responses may therefore arrive
// out of order, which the protocol permits (correlation is by id).
type ServerConn struct {
	conn    *websocket.Conn
	facade  *Facade
	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewServerConn wraps an upgraded websocket connection.
func NewServerConn(conn *websocket.Conn, facade *Facade) *ServerConn {
	return &ServerConn{
		conn:   conn,
		facade: facade,
		closed: make(chan struct{}),
	}
}

// Serve runs the read loop until the connection dies, then waits for
// in-flight dispatches to finish. Malformed frames are ignored; they
// never tear the connection down.
func (c *ServerConn) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.teardown()

	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()
	go func() {
		for {
			select {
			case <-c.closed:
				return
			case <-pingTicker.C:
				c.writeMu.Lock()
				c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				err := c.conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("rpc: ignoring malformed frame: %v", err)
			continue
		}
		if !frame.IsRequest() {
			continue
		}

		c.wg.Add(1)
		go func(frame Frame) {
			defer c.wg.Done()
			result, rpcErr := c.facade.Dispatch(ctx, frame.Method, frame.Args, c)
			if frame.ID == "" {
				return // one-way
			}
			c.respond(frame.ID, result, rpcErr)
		}(frame)
	}

	cancel()
	c.wg.Wait()
}

// respond writes a response frame for a completed call.
func (c *ServerConn) respond(id string, result interface{}, rpcErr *Error) {
	frame := Frame{ID: id, Error: rpcErr}
	if rpcErr == nil {
		data, err := json.Marshal(result)
		if err != nil {
			frame.Error = &Error{Code: CodeInternal, Message: "marshal result: " + err.Error()}
		} else {
			frame.Result = data
		}
	}
	c.writeFrame(frame)
}

// Notify implements Notifier: a one-way callback invocation. Failures are
// logged and swallowed so a broken client never aborts the sender, and a
// panic inside marshalling cannot propagate.
func (c *ServerConn) Notify(handleID, method string, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("rpc: callback notify panic: %v", r)
		}
	}()

	payloadData, err := json.Marshal(payload)
	if err != nil {
		log.Printf("rpc: marshal callback payload: %v", err)
		return
	}
	handleData, _ := json.Marshal(handleID)
	methodData, _ := json.Marshal(method)
	c.writeFrame(Frame{
		Method: MethodCallback,
		Args:   []json.RawMessage{handleData, methodData, payloadData},
	})
}

func (c *ServerConn) writeFrame(frame Frame) {
	select {
	case <-c.closed:
		return
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(frame); err != nil {
		log.Printf("rpc: write frame: %v", err)
	}
}

// teardown closes the connection and drops every handler reference so no
// long-lived closure keeps the connection alive.
func (c *ServerConn) teardown() {
	c.once.Do(func() {
		close(c.closed)
		c.conn.SetPongHandler(nil)
		c.conn.SetPingHandler(nil)
		c.conn.SetCloseHandler(nil)
		c.conn.Close()
	})
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kubisat/flightlink/pkg/kbst"
)

// ErrLinkClosed is returned by a request when the link goes away first
var ErrLinkClosed = errors.New("link closed")

// ReplyError is returned for an ERR reply
type ReplyError struct {
	Reply kbst.Frame
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Reply.Parameter, e.Reply.Exception)
}

// linkClient is the ground side of a link: it decodes everything the
// flight side sends and pairs ANS/ERR replies with requests. INF frames
// go to onInfo.
type linkClient struct {
	conn   Connection
	onInfo func(kbst.Frame)

	frames chan kbst.Frame
	stop   chan struct{}
	done   chan struct{}
	err    error // read error, valid after done is closed

	reqMu   sync.Mutex // one request in flight
	skipped atomic.Uint64
	once    sync.Once
}

func newLinkClient(conn Connection, onInfo func(kbst.Frame)) *linkClient {
	c := &linkClient{
		conn:   conn,
		onInfo: onInfo,
		frames: make(chan kbst.Frame, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *linkClient) readLoop() {
	defer close(c.done)

	decoder := kbst.NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := c.conn.Read(buf)
		for i := 0; i < n; i++ {
			frame, decodeErr := decoder.DecodeByte(buf[i])
			if decodeErr != nil {
				c.skipped.Add(1)
				continue
			}
			if frame == nil {
				continue
			}
			if frame.Operation == kbst.OpInfo {
				if c.onInfo != nil {
					c.onInfo(*frame)
				}
				continue
			}
			select {
			case c.frames <- *frame:
			case <-c.stop:
				return
			}
		}
		if err != nil {
			c.err = err
			return
		}
	}
}

// Request sends req and waits for the reply on the same parameter. Replies
// for other parameters are discarded, as is anything queued before req is
// sent. A reply to an abandoned request that arrives after req is sent and
// names the same parameter cannot be told apart and is taken as the answer.
func (c *linkClient) Request(ctx context.Context, req kbst.Frame) (kbst.Frame, error) {
	data, err := kbst.EncodeFrame(req)
	if err != nil {
		return kbst.Frame{}, err
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.drainStale()

	if _, err := c.conn.Write(data); err != nil {
		return kbst.Frame{}, fmt.Errorf("send %s: %w", req.Parameter, err)
	}

	for {
		select {
		case f := <-c.frames:
			if f.Parameter != req.Parameter {
				continue
			}
			if f.Operation == kbst.OpError {
				return f, &ReplyError{Reply: f}
			}
			return f, nil
		case <-c.done:
			return kbst.Frame{}, fmt.Errorf("%w: %v", ErrLinkClosed, c.err)
		case <-ctx.Done():
			return kbst.Frame{}, fmt.Errorf("waiting for %s reply: %w", req.Parameter, ctx.Err())
		}
	}
}

// drainStale drops replies to requests that already gave up waiting
func (c *linkClient) drainStale() {
	for {
		select {
		case <-c.frames:
		default:
			return
		}
	}
}

// Skipped returns the number of undecodable frames seen so far
func (c *linkClient) Skipped() uint64 {
	return c.skipped.Load()
}

// Close stops the reader and closes the connection
func (c *linkClient) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		err = c.conn.Close()
	})
	return err
}

// parseRequest builds a request from console style tokens:
//
//	get <G.C> [unit] [argument...]
//	set <G.C> [unit] [value...]
//
// The unit is a wire token (u s V mA b t x) and defaults to UNDEFINED when
// the token after the id is not one.
func parseRequest(tokens []string) (kbst.Frame, error) {
	if len(tokens) < 2 {
		return kbst.Frame{}, errors.New("usage: get|set <group.command> [unit] [value]")
	}

	id, err := kbst.ParseParameterID(tokens[1])
	if err != nil {
		return kbst.Frame{}, err
	}

	value, err := parseValueTokens(tokens[2:])
	if err != nil {
		return kbst.Frame{}, err
	}

	switch strings.ToLower(tokens[0]) {
	case "get":
		return kbst.NewGet(id, value), nil
	case "set":
		return kbst.NewSet(id, value), nil
	default:
		return kbst.Frame{}, fmt.Errorf("unknown request %q (use get or set)", tokens[0])
	}
}

func parseValueTokens(tokens []string) (*kbst.Value, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	unit := kbst.UnitUndefined
	if len(tokens) > 1 {
		if u, err := kbst.ParseUnit(tokens[0]); err == nil {
			unit, tokens = u, tokens[1:]
		}
	}

	v, err := kbst.ParseValue(unit, strings.Join(tokens, " "))
	if err != nil {
		return nil, err
	}
	return &v, nil
}

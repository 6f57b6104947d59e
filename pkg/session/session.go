// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session runs the ground link: it turns received bytes into
// dispatched requests and writes replies and unsolicited notices back on a
// single transport.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/kubisat/flightlink/pkg/events"
	"github.com/kubisat/flightlink/pkg/kbst"
)

// ErrQueueFull is returned when an INF notice is dropped
var ErrQueueFull = errors.New("session: info queue full")

// Mode selects how undecodable input is answered
type Mode int

// Session modes
const (
	// ModeStrict drops undecodable input silently
	ModeStrict Mode = iota
	// ModeLenient answers ERR/INVALID_PARAM when the parameter id was readable
	ModeLenient
)

func (m Mode) String() string {
	if m == ModeLenient {
		return "lenient"
	}
	return "strict"
}

// ParseMode parses "strict" or "lenient"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return ModeStrict, nil
	case "lenient":
		return ModeLenient, nil
	default:
		return ModeStrict, fmt.Errorf("unknown link mode %q", s)
	}
}

// DefaultInfoQueue is the number of INF frames held while a reply is in flight
const DefaultInfoQueue = 32

// Dispatcher executes one request frame
type Dispatcher interface {
	Execute(req kbst.Frame) kbst.Frame
}

// Config holds session options
type Config struct {
	Mode      Mode
	InfoQueue int
	// NoticeID is the parameter id INF frames for event records are sent on
	NoticeID kbst.ParameterID
	// Names resolves parameter names for log output
	Names kbst.NameFunc
}

// Session runs decode, dispatch and encode cycles one at a time
type Session struct {
	dispatcher Dispatcher
	cfg        Config
	logger     zerolog.Logger

	mu sync.Mutex // one cycle at a time

	statsMu sync.Mutex
	stats   *Statistics

	info    chan []byte
	dropped atomic.Uint64
}

// New creates a session over dispatcher
func New(dispatcher Dispatcher, cfg Config, logger zerolog.Logger) *Session {
	if cfg.InfoQueue <= 0 {
		cfg.InfoQueue = DefaultInfoQueue
	}
	return &Session{
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.With().Str("component", "session").Str("mode", cfg.Mode.String()).Logger(),
		stats:      NewStatistics(),
		info:       make(chan []byte, cfg.InfoQueue),
	}
}

// HandleIncoming decodes one complete frame, dispatches it and returns the
// encoded reply. It returns nil when the input is dropped.
func (s *Session) HandleIncoming(data []byte) []byte {
	frame, err := kbst.Decode(data)
	if err != nil {
		return s.handle(nil, err, data)
	}
	return s.handle(&frame, nil, data)
}

// handle completes a cycle for an already decoded frame or decode error
func (s *Session) handle(frame *kbst.Frame, decodeErr error, raw []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.withStats(func(st *Statistics) { st.Update(decodeErr) })

	if decodeErr != nil {
		return s.rejectUndecodable(decodeErr, raw)
	}

	s.logger.Debug().Str("rx", kbst.FormatFrame(*frame, s.cfg.Names)).Msg("request")

	s.withStats(func(st *Statistics) { st.Dispatched++ })
	reply := s.dispatcher.Execute(*frame)

	out, err := kbst.EncodeFrame(reply)
	if err != nil {
		s.logger.Error().Err(err).Str("parameter", reply.Parameter.String()).Msg("reply not encodable")
		reply = kbst.NewError(frame.Parameter, kbst.ExceptionInvalidOperation)
		out = kbst.MustEncode(reply)
	}
	s.withStats(func(st *Statistics) { st.RecordReply(reply) })

	s.logger.Debug().Str("tx", kbst.FormatFrame(reply, s.cfg.Names)).Msg("reply")
	return out
}

func (s *Session) rejectUndecodable(decodeErr error, raw []byte) []byte {
	var de *kbst.DecodeError
	recovered := errors.As(decodeErr, &de) && de.HasParameter

	ev := s.logger.Warn().Err(decodeErr).Bool("parameter_recovered", recovered)
	if raw != nil {
		ev = ev.Int("bytes", len(raw))
	}
	ev.Msg("undecodable frame")

	if s.cfg.Mode != ModeLenient || !recovered {
		return nil
	}

	reply := kbst.NewError(de.Parameter, kbst.ExceptionInvalidParam)
	s.withStats(func(st *Statistics) {
		st.LenientReplies++
		st.RecordReply(reply)
	})
	return kbst.MustEncode(reply)
}

// PushInfo queues an unsolicited INF frame. It never blocks: when the queue
// is full the frame is dropped and ErrQueueFull returned.
func (s *Session) PushInfo(f kbst.Frame) error {
	if f.Operation != kbst.OpInfo {
		return fmt.Errorf("session: push of %s frame, want %s", f.Operation, kbst.OpInfo)
	}
	data, err := kbst.EncodeFrame(f)
	if err != nil {
		return err
	}

	select {
	case s.info <- data:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// Notify implements events.Subscriber by queueing the record as an INF
// notice on the configured notice parameter.
func (s *Session) Notify(_ context.Context, rec events.Record) error {
	return s.PushInfo(kbst.NewInfo(s.cfg.NoticeID, kbst.Text(rec.Compact())))
}

// TakeInfo drains the queued INF frames for hosts that drive HandleIncoming
// themselves instead of calling Run.
func (s *Session) TakeInfo() [][]byte {
	var out [][]byte
	for {
		select {
		case data := <-s.info:
			out = append(out, data)
		default:
			s.withStats(func(st *Statistics) { st.InfoSent += uint64(len(out)) })
			return out
		}
	}
}

// Stats returns a copy of the link statistics. It is safe to call from a
// dispatcher handler while a cycle is running.
func (s *Session) Stats() Statistics {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := *s.stats
	st.InfoDropped = s.dropped.Load()
	return st
}

func (s *Session) withStats(fn func(*Statistics)) {
	s.statsMu.Lock()
	fn(s.stats)
	s.statsMu.Unlock()
}

// Run drives the session over t until ctx is cancelled or the transport
// fails. It is the only writer to t: each reply is sent whole, and queued
// INF frames are sent between cycles. A Receive blocked at cancellation
// returns when the caller closes the transport.
func (s *Session) Run(ctx context.Context, t Transport) error {
	chunks := make(chan []byte)
	recvErr := make(chan error, 1)

	go func() {
		for {
			data, err := t.Receive()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case chunks <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	decoder := kbst.NewDecoder()
	s.logger.Info().Msg("link session started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("link session stopped")
			return ctx.Err()

		case err := <-recvErr:
			if errors.Is(err, io.EOF) {
				s.logger.Info().Msg("transport closed")
				return nil
			}
			return fmt.Errorf("receive: %w", err)

		case data := <-s.info:
			if err := t.Send(data); err != nil {
				return fmt.Errorf("send info: %w", err)
			}
			s.withStats(func(st *Statistics) { st.InfoSent++ })

		case chunk := <-chunks:
			for _, b := range chunk {
				frame, err := decoder.DecodeByte(b)
				if frame == nil && err == nil {
					continue
				}
				reply := s.handle(frame, err, nil)
				if reply == nil {
					continue
				}
				if err := t.Send(reply); err != nil {
					return fmt.Errorf("send reply: %w", err)
				}
			}
		}
	}
}

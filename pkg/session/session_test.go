// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kubisat/flightlink/pkg/command"
	"github.com/kubisat/flightlink/pkg/events"
	"github.com/kubisat/flightlink/pkg/kbst"
)

var (
	batteryVoltage = kbst.NewParameterID(2, 2)
	eventNotice    = kbst.NewParameterID(5, 0)
)

// countingDispatcher wraps a registry and counts Execute calls
type countingDispatcher struct {
	mu    sync.Mutex
	calls int
	next  Dispatcher
}

func (d *countingDispatcher) Execute(req kbst.Frame) kbst.Frame {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return d.next.Execute(req)
}

func (d *countingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func newTestSession(t *testing.T, mode Mode) (*Session, *countingDispatcher) {
	t.Helper()
	reg := command.NewRegistry(zerolog.Nop())
	require.NoError(t, reg.Register(command.Entry{
		ID: batteryVoltage, Name: "battery_voltage",
		Access: kbst.AccessReadOnly, Unit: kbst.UnitVolt,
		Get: func() (kbst.Value, error) { return kbst.Volts(4.12), nil },
	}))
	d := &countingDispatcher{next: reg}
	s := New(d, Config{Mode: mode, InfoQueue: 4, NoticeID: eventNotice, Names: reg.Name}, zerolog.Nop())
	return s, d
}

func decodeReply(t *testing.T, data []byte) kbst.Frame {
	t.Helper()
	f, err := kbst.Decode(data)
	require.NoError(t, err)
	f.Checksum = 0
	return f
}

func TestHandleIncoming_Get(t *testing.T) {
	s, d := newTestSession(t, ModeStrict)

	reply := s.HandleIncoming(kbst.MustEncode(kbst.NewGet(batteryVoltage, nil)))
	f := decodeReply(t, reply)
	require.Equal(t, kbst.OpAnswer, f.Operation)
	require.Equal(t, kbst.UnitVolt, f.Value.Unit())
	require.Equal(t, 1, d.count())

	stats := s.Stats()
	require.Equal(t, uint64(1), stats.TotalFrames)
	require.Equal(t, uint64(1), stats.Answers)
}

func TestHandleIncoming_CorruptChecksumNeverDispatched(t *testing.T) {
	for _, mode := range []Mode{ModeStrict, ModeLenient} {
		t.Run(mode.String(), func(t *testing.T) {
			s, d := newTestSession(t, mode)

			data := kbst.MustEncode(kbst.NewGet(batteryVoltage, nil))
			data[len(data)-6] ^= 0x01 // last checksum digit

			_, err := kbst.Decode(data)
			require.ErrorIs(t, err, kbst.ErrChecksumMismatch)

			reply := s.HandleIncoming(data)
			require.Equal(t, 0, d.count(), "a frame failing its checksum must never be dispatched")
			require.Equal(t, uint64(1), s.Stats().ChecksumErrors)

			if mode == ModeStrict {
				require.Nil(t, reply)
				return
			}
			require.Equal(t, kbst.NewError(batteryVoltage, kbst.ExceptionInvalidParam), decodeReply(t, reply))
		})
	}
}

func TestHandleIncoming_LenientNeedsParameter(t *testing.T) {
	s, d := newTestSession(t, ModeLenient)

	require.Nil(t, s.HandleIncoming([]byte("KBST;GET;x;y;;;;0000;TSBK")))
	require.Nil(t, s.HandleIncoming([]byte("garbage")))
	require.Equal(t, 0, d.count())

	reply := s.HandleIncoming([]byte("KBST;GET;2;2;;"))
	require.Equal(t, kbst.NewError(batteryVoltage, kbst.ExceptionInvalidParam), decodeReply(t, reply))

	stats := s.Stats()
	require.Equal(t, uint64(1), stats.TruncatedFrames)
	require.Equal(t, uint64(1), stats.LenientReplies)
}

func TestHandleIncoming_UnknownParameter(t *testing.T) {
	s, _ := newTestSession(t, ModeStrict)
	unknown := kbst.NewParameterID(9, 9)
	reply := s.HandleIncoming(kbst.MustEncode(kbst.NewGet(unknown, nil)))
	require.Equal(t, kbst.NewError(unknown, kbst.ExceptionInvalidParam), decodeReply(t, reply))
	require.Equal(t, uint64(1), s.Stats().ErrorReplies)
}

func TestHandleIncoming_NonFiniteAnswer(t *testing.T) {
	reg := command.NewRegistry(zerolog.Nop())
	require.NoError(t, reg.Register(command.Entry{
		ID: batteryVoltage, Name: "battery_voltage",
		Access: kbst.AccessReadOnly, Unit: kbst.UnitVolt,
		Get: func() (kbst.Value, error) { return kbst.Volts(math.NaN()), nil },
	}))
	s := New(reg, Config{NoticeID: eventNotice}, zerolog.Nop())

	f := decodeReply(t, s.HandleIncoming(kbst.MustEncode(kbst.NewGet(batteryVoltage, nil))))
	require.Equal(t, kbst.OpError, f.Operation)
	require.Equal(t, kbst.ExceptionInvalidOperation, f.Exception)
}

func TestPushInfo(t *testing.T) {
	s, _ := newTestSession(t, ModeStrict)

	require.Error(t, s.PushInfo(kbst.NewAnswer(batteryVoltage, kbst.Volts(1))))

	rec := events.Record{Seq: 7, Time: time.Unix(100, 0), Group: events.GroupPower, Code: events.PowerLowBattery}
	require.NoError(t, s.Notify(context.Background(), rec))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.PushInfo(kbst.NewInfo(eventNotice, kbst.Text("x"))))
	}
	require.ErrorIs(t, s.PushInfo(kbst.NewInfo(eventNotice, kbst.Text("x"))), ErrQueueFull)
	require.Equal(t, uint64(1), s.Stats().InfoDropped)

	queued := s.TakeInfo()
	require.Len(t, queued, 4)
	first := decodeReply(t, queued[0])
	require.Equal(t, kbst.NewInfo(eventNotice, kbst.Text(rec.Compact())), first)
	require.Equal(t, uint64(4), s.Stats().InfoSent)
	require.Empty(t, s.TakeInfo())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Lenient")
	require.NoError(t, err)
	require.Equal(t, ModeLenient, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeStrict, m)

	_, err = ParseMode("loose")
	require.Error(t, err)
}

// chanTransport delivers received chunks from a channel and records sends
type chanTransport struct {
	rx chan []byte

	mu   sync.Mutex
	sent [][]byte
	sig  chan struct{}
}

func newChanTransport() *chanTransport {
	return &chanTransport{rx: make(chan []byte, 16), sig: make(chan struct{}, 64)}
}

func (c *chanTransport) Send(data []byte) error {
	c.mu.Lock()
	c.sent = append(c.sent, append([]byte(nil), data...))
	c.mu.Unlock()
	c.sig <- struct{}{}
	return nil
}

func (c *chanTransport) Receive() ([]byte, error) {
	data, ok := <-c.rx
	if !ok {
		return nil, io.EOF
	}
	return data, nil
}

func (c *chanTransport) waitSends(t *testing.T, n int) [][]byte {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.sig:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for send %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func TestRun_RepliesAndInfoAreWholeFrames(t *testing.T) {
	s, d := newTestSession(t, ModeStrict)
	tr := newChanTransport()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, tr) }()

	req := kbst.MustEncode(kbst.NewGet(batteryVoltage, nil))
	tr.rx <- req[:7]
	require.NoError(t, s.PushInfo(kbst.NewInfo(eventNotice, kbst.Text("0000000100000064010"+"1"))))
	tr.rx <- append(append(append([]byte(nil), req[7:]...), "\r\n"...), req...)

	sent := tr.waitSends(t, 3)
	replies := 0
	for _, data := range sent {
		f := decodeReply(t, data)
		if f.Operation == kbst.OpAnswer {
			replies++
		} else {
			require.Equal(t, kbst.OpInfo, f.Operation)
		}
	}
	require.Equal(t, 2, replies)
	require.Equal(t, 2, d.count())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_AnswersRequestAfterCutFrame(t *testing.T) {
	s, d := newTestSession(t, ModeStrict)
	tr := newChanTransport()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, tr) }()

	tr.rx <- append([]byte("KBST;GET;1;"), kbst.MustEncode(kbst.NewGet(batteryVoltage, nil))...)

	sent := tr.waitSends(t, 1)
	require.Equal(t, kbst.OpAnswer, decodeReply(t, sent[0]).Operation)
	require.Equal(t, 1, d.count())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, uint64(1), s.Stats().TruncatedFrames)
}

func TestRun_TransportEOF(t *testing.T) {
	s, _ := newTestSession(t, ModeStrict)
	tr := newChanTransport()
	close(tr.rx)
	require.NoError(t, s.Run(context.Background(), tr))
}

type failingTransport struct{}

func (failingTransport) Send([]byte) error        { return nil }
func (failingTransport) Receive() ([]byte, error) { return nil, errors.New("port unplugged") }

func TestRun_TransportError(t *testing.T) {
	s, _ := newTestSession(t, ModeStrict)
	err := s.Run(context.Background(), failingTransport{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "port unplugged")
}

func TestStreamTransport(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTransport(&buf)

	require.NoError(t, tr.Send([]byte("KBST;")))
	data, err := tr.Receive()
	require.NoError(t, err)
	require.Equal(t, []byte("KBST;"), data)

	_, err = tr.Receive()
	require.ErrorIs(t, err, io.EOF)
}

func TestStatistics_Summary(t *testing.T) {
	st := NewStatistics()
	st.Update(nil)
	st.Update(kbst.ErrChecksumMismatch)
	st.Update(errors.New("other"))
	require.Equal(t, uint64(2), st.Errors())
	require.Contains(t, st.Summary(), "crc=1")
	require.Contains(t, st.String(), "Checksum Errors")

	st.Reset()
	require.Equal(t, uint64(0), st.TotalFrames)
}

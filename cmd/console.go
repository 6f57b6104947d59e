// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kubisat/flightlink/pkg/config"
	"github.com/kubisat/flightlink/pkg/kbst"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive ground console for a flight computer",
	Long: `Monitor and command a flight computer from an interactive terminal UI.

Features:
  - Live link statistics (frames, errors, rates, round trip time)
  - Decoded frame log with event notices expanded
  - Command line for GET/SET requests, e.g. "get 2.2" or "set 3.0 t 1767225600"
  - Automatic reconnection on connection loss

Keys: Enter sends the command line, Ctrl+R resets the statistics,
PgUp/PgDn scroll the log, Esc or Ctrl+C quits.

Supports both serial and WebSocket connections.`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

// linkManager owns the console connection and reconnects when it drops
type linkManager struct {
	link config.LinkConfig

	mu       sync.RWMutex
	conn     Connection
	connInfo string

	p    *tea.Program
	done chan struct{}
}

func (lm *linkManager) getConn() Connection {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.conn
}

func (lm *linkManager) setConn(conn Connection, connInfo string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.conn = conn
	lm.connInfo = connInfo
}

// send encodes and writes one request frame
func (lm *linkManager) send(f kbst.Frame) error {
	data, err := kbst.EncodeFrame(f)
	if err != nil {
		return err
	}
	conn := lm.getConn()
	if conn == nil {
		return errors.New("not connected")
	}
	_, err = conn.Write(data)
	return err
}

func runConsole(cmd *cobra.Command, args []string) error {
	conn, connInfo, cfg, err := openLink(cmd)
	if err != nil {
		return err
	}

	lm := &linkManager{
		link:     cfg.Link,
		conn:     conn,
		connInfo: connInfo,
		done:     make(chan struct{}),
	}

	m := newConsoleModel(lm, connInfo)
	p := tea.NewProgram(m, tea.WithAltScreen())
	lm.p = p

	go lm.readerLoop()

	_, err = p.Run()
	close(lm.done)
	if c := lm.getConn(); c != nil {
		c.Close()
	}
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// readerLoop reads until shutdown, reconnecting whenever the link drops
func (lm *linkManager) readerLoop() {
	for {
		if lost := lm.readFromConnection(); !lost {
			return
		}
		lm.p.Send(connectionLostMsg{})
		if !lm.reconnect() {
			return
		}
	}
}

// readFromConnection decodes frames and hands them to the TUI in batches.
// Returns true if the connection was lost, false on shutdown.
func (lm *linkManager) readFromConnection() bool {
	batchChan := make(chan consoleFrameMsg, 100)
	syncChan := make(chan consoleSyncMsg, 1)
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)

		decoder := kbst.NewDecoder()
		synchronized := false
		invalidBeforeSync := 0
		buf := make([]byte, 256)

		for {
			conn := lm.getConn()
			if conn == nil {
				return
			}

			n, err := conn.Read(buf)
			for i := 0; i < n; i++ {
				raw := append([]byte(nil), decoder.GetRawBytes()...)
				frame, decodeErr := decoder.DecodeByte(buf[i])
				if frame == nil && decodeErr == nil {
					continue
				}

				if decodeErr != nil && !synchronized {
					invalidBeforeSync++
					continue
				}
				if frame != nil && !synchronized {
					synchronized = true
					select {
					case syncChan <- consoleSyncMsg{invalid: invalidBeforeSync}:
					default:
					}
				}

				msg := consoleFrameMsg{at: time.Now(), frame: frame, err: decodeErr}
				if decodeErr != nil {
					msg.raw = append(raw, buf[i])
				}
				select {
				case batchChan <- msg:
				default:
				}
			}

			if err != nil {
				// any read error ends this connection; readerLoop reconnects
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-lm.done:
				return
			case <-readerDone:
				return
			case <-ticker.C:
				var batch consoleBatchMsg

				select {
				case s := <-syncChan:
					batch.sync = &s
				default:
				}

			drain:
				for {
					select {
					case msg := <-batchChan:
						batch.frames = append(batch.frames, msg)
					default:
						break drain
					}
				}

				if batch.sync != nil || len(batch.frames) > 0 {
					lm.p.Send(batch)
				}
			}
		}
	}()

	<-readerDone

	select {
	case <-lm.done:
		return false
	default:
		return true
	}
}

// reconnect retries with exponential backoff. Returns false if shutdown was
// requested first.
func (lm *linkManager) reconnect() bool {
	if conn := lm.getConn(); conn != nil {
		conn.Close()
	}

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-lm.done:
			return false
		case <-time.After(backoff):
		}

		conn, connInfo, err := OpenConnection(lm.link)
		if err == nil {
			lm.setConn(conn, connInfo)
			lm.p.Send(reconnectedMsg{connInfo: connInfo})
			return true
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("storage: closed")

// Store buffers entries in memory and writes them as blocks on flush
type Store struct {
	db         *gorm.DB
	logger     zerolog.Logger
	maxPending int

	flushMu sync.Mutex // one flush at a time
	bg      sync.WaitGroup

	mu       sync.Mutex
	pending  []Entry
	closed   bool
	flushing bool // background flush started by LogToStorage
	written  uint64
}

// Open opens (or creates) the database at config.Path
func Open(config Config, logger zerolog.Logger) (*Store, error) {
	logger = logger.With().Str("component", "storage").Logger()

	db, err := openDB(config, logger)
	if err != nil {
		return nil, err
	}

	maxPending := config.MaxPending
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}

	logger.Info().Str("path", config.Path).Msg("storage opened")
	return &Store{db: db, logger: logger, maxPending: maxPending}, nil
}

// LogToStorage buffers one entry and never touches the database. The
// buffer is written when FlushLogsToStorage is called, or by a background
// flush once it reaches its limit.
func (s *Store) LogToStorage(e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pending = append(s.pending, e)

	if len(s.pending) >= s.maxPending && !s.flushing {
		s.flushing = true
		s.bg.Add(1)
		go s.backgroundFlush()
	}
	return nil
}

func (s *Store) backgroundFlush() {
	defer s.bg.Done()

	err := s.FlushLogsToStorage()
	if err != nil && !errors.Is(err, ErrClosed) {
		s.logger.Warn().Err(err).Msg("background flush failed")
	}

	s.mu.Lock()
	s.flushing = false
	s.mu.Unlock()
}

// Pending returns the number of buffered entries
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// FlushLogsToStorage writes all buffered entries in one transaction. On
// failure the entries stay buffered for the next flush.
func (s *Store) FlushLogsToStorage() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return s.flush()
}

func (s *Store) flush() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	blocks := make([]Block, 0, len(batch))
	for _, e := range batch {
		b, err := encodeBlock(e)
		if err != nil {
			s.logger.Error().Err(err).Str("source", e.Source).Msg("dropping unencodable entry")
			continue
		}
		blocks = append(blocks, b)
	}

	// mu is released: gorm logging can re-enter LogToStorage via LogHook
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(blocks, 100).Error
	})
	if err != nil {
		s.mu.Lock()
		s.pending = append(batch, s.pending...)
		s.mu.Unlock()
		return fmt.Errorf("flush %d entries: %w", len(blocks), err)
	}

	s.mu.Lock()
	s.written += uint64(len(blocks))
	s.mu.Unlock()

	s.logger.Debug().Int("blocks", len(blocks)).Msg("flushed")
	return nil
}

// GetLogsByLevel returns the stored entries at level, oldest first. Blocks
// failing their checksum are skipped and reported in the returned error,
// which matches ErrCorruptBlock; the valid entries are still returned.
func (s *Store) GetLogsByLevel(level Level) ([]Entry, error) {
	var blocks []Block
	if err := s.db.Where("level = ?", uint8(level)).Order("id").Find(&blocks).Error; err != nil {
		return nil, err
	}
	return s.decodeAll(blocks)
}

// Recent returns the newest limit entries of any level, oldest first
func (s *Store) Recent(limit int) ([]Entry, error) {
	var blocks []Block
	if err := s.db.Order("id desc").Limit(limit).Find(&blocks).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
	return s.decodeAll(blocks)
}

// Count returns the number of stored blocks
func (s *Store) Count() (int64, error) {
	var n int64
	err := s.db.Model(&Block{}).Count(&n).Error
	return n, err
}

func (s *Store) decodeAll(blocks []Block) ([]Entry, error) {
	entries := make([]Entry, 0, len(blocks))
	var errs []error
	for _, b := range blocks {
		e, err := decodeBlock(b)
		if err != nil {
			s.logger.Warn().Err(err).Uint64("block", b.ID).Msg("skipping block")
			errs = append(errs, err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, errors.Join(errs...)
}

// Close flushes buffered entries and closes the database
func (s *Store) Close() error {
	flushErr := s.FlushLogsToStorage()
	if errors.Is(flushErr, ErrClosed) {
		return nil
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.bg.Wait()

	s.mu.Lock()
	written := s.written
	s.mu.Unlock()

	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Join(flushErr, err)
	}
	s.logger.Info().Uint64("blocks_written", written).Msg("storage closed")
	return errors.Join(flushErr, sqlDB.Close())
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/kubisat/flightlink/pkg/kbst"
)

// Statistics tracks link frame counts and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	ValidFrames     uint64
	ChecksumErrors  uint64
	MalformedFrames uint64
	TruncatedFrames uint64
	Dispatched      uint64
	Answers         uint64
	ErrorReplies    uint64
	LenientReplies  uint64
	InfoSent        uint64
	InfoDropped     uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts one received frame and its decode result
func (s *Statistics) Update(decodeErr error) {
	s.TotalFrames++

	switch {
	case decodeErr == nil:
		s.ValidFrames++
	case errors.Is(decodeErr, kbst.ErrChecksumMismatch):
		s.ChecksumErrors++
	case errors.Is(decodeErr, kbst.ErrTruncated):
		s.TruncatedFrames++
	default:
		s.MalformedFrames++
	}

	s.LastUpdateTime = time.Now()
}

// RecordReply counts a reply sent for a dispatched request
func (s *Statistics) RecordReply(reply kbst.Frame) {
	if reply.Operation == kbst.OpError {
		s.ErrorReplies++
	} else {
		s.Answers++
	}
}

// Errors returns the number of frames that failed to decode
func (s *Statistics) Errors() uint64 {
	return s.ChecksumErrors + s.MalformedFrames + s.TruncatedFrames
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// Summary returns a one-line summary suitable for a TEXT parameter value
func (s *Statistics) Summary() string {
	return fmt.Sprintf("rx=%d ok=%d crc=%d mal=%d trunc=%d ans=%d err=%d inf=%d drop=%d",
		s.TotalFrames, s.ValidFrames, s.ChecksumErrors, s.MalformedFrames, s.TruncatedFrames,
		s.Answers, s.ErrorReplies, s.InfoSent, s.InfoDropped)
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, crcErrorPercent, malformedPercent, truncatedPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		crcErrorPercent = float64(s.ChecksumErrors) * 100.0 / float64(s.TotalFrames)
		malformedPercent = float64(s.MalformedFrames) * 100.0 / float64(s.TotalFrames)
		truncatedPercent = float64(s.TruncatedFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, crcErrorPercent)
	}
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.MalformedFrames, malformedPercent)
	}
	if s.TruncatedFrames > 0 {
		result += fmt.Sprintf("Truncated:       %8d (%.1f%%)\n", s.TruncatedFrames, truncatedPercent)
	}
	if s.Dispatched > 0 {
		result += fmt.Sprintf("Dispatched:      %8d (ANS %d, ERR %d)\n", s.Dispatched, s.Answers, s.ErrorReplies)
	}
	if s.LenientReplies > 0 {
		result += fmt.Sprintf("Lenient ERR:     %8d\n", s.LenientReplies)
	}
	if s.InfoSent > 0 || s.InfoDropped > 0 {
		result += fmt.Sprintf("INF Sent:        %8d (dropped %d)\n", s.InfoSent, s.InfoDropped)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "=====================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}

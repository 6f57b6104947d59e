// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package events

import (
	"sync"
	"time"
)

// DefaultCapacity matches the firmware's EVENT_BUFFER_SIZE
const DefaultCapacity = 10

// Log is a fixed-capacity ring of event records. When full, an append
// overwrites the oldest record and increments the overflow counter.
type Log struct {
	mu        sync.Mutex
	records   []Record
	head      int // index of the oldest resident record
	count     int
	lastSeq   uint64
	overflows uint64
}

// NewLog creates a log holding at most capacity records.
// A non-positive capacity selects DefaultCapacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{records: make([]Record, capacity)}
}

// Append stores an event and returns the finalized record. It never blocks
// on I/O and never fails.
func (l *Log) Append(group Group, code Code, ts time.Time) Record {
	return l.AppendNow(group, code, func() time.Time { return ts })
}

// AppendNow is Append with the timestamp taken under the log lock, so
// record times never run backwards relative to sequence ids.
func (l *Log) AppendNow(group Group, code Code, now func() time.Time) Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastSeq++
	rec := Record{Seq: l.lastSeq, Time: now(), Group: group, Code: code}

	capacity := len(l.records)
	if l.count < capacity {
		l.records[(l.head+l.count)%capacity] = rec
		l.count++
		return rec
	}

	l.records[l.head] = rec
	l.head = (l.head + 1) % capacity
	l.overflows++
	return rec
}

// at returns the i-th resident record, oldest first. Caller holds mu.
func (l *Log) at(i int) Record {
	return l.records[(l.head+i)%len(l.records)]
}

// ReadSince returns the resident records with a sequence id greater than
// seq, oldest first. lost is true when records after seq were overwritten,
// so the result is not contiguous with seq.
func (l *Log) ReadSince(seq uint64) (records []Record, lost bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 {
		return nil, false
	}
	if oldest := l.at(0).Seq; oldest > seq+1 {
		lost = true
	}

	for i := 0; i < l.count; i++ {
		if r := l.at(i); r.Seq > seq {
			records = append(records, r)
		}
	}
	return records, lost
}

// ReadByGroup returns the resident records of one group, oldest first
func (l *Log) ReadByGroup(group Group) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Record
	for i := 0; i < l.count; i++ {
		if r := l.at(i); r.Group == group {
			out = append(out, r)
		}
	}
	return out
}

// Latest returns up to n of the most recent records, oldest first
func (l *Log) Latest(n int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > l.count {
		n = l.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]Record, n)
	for i := 0; i < n; i++ {
		out[i] = l.at(l.count - n + i)
	}
	return out
}

// Snapshot returns every resident record, oldest first
func (l *Log) Snapshot() []Record {
	return l.Latest(l.Capacity())
}

// Len returns the number of resident records
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Capacity returns the maximum number of resident records
func (l *Log) Capacity() int {
	return len(l.records)
}

// Overflows returns how many records have been overwritten
func (l *Log) Overflows() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overflows
}

// LastSeq returns the sequence id of the newest record, 0 when empty
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

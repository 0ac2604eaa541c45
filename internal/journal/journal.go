// Package journal records region enter/exit and lifecycle events to a
// compressed JSONL journal without blocking the tick goroutine.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/udisondev/regionsys/internal/region"
)

// DefaultQueueSize is the record buffer between the tick goroutine and the writer.
const DefaultQueueSize = 4096

// Record is one journal line.
type Record struct {
	Time       time.Time `json:"time"`
	Type       string    `json:"type"`
	Tick       uint64    `json:"tick,omitempty"`
	Generation uint64    `json:"generation,omitempty"`
	Region     uint64    `json:"region"`
	Agent      uint64    `json:"agent,omitempty"`
	Synthetic  bool      `json:"synthetic,omitempty"`
}

// Journal buffers registry events and writes them from its own goroutine.
type Journal struct {
	w       *Writer
	ch      chan Record
	dropped atomic.Uint64
}

// New creates a journal writing under dir.
func New(dir, prefix string, queueSize int) *Journal {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Journal{w: NewWriter(dir, prefix), ch: make(chan Record, queueSize)}
}

// Attach subscribes the journal to every event of reg.
func (j *Journal) Attach(reg *region.Registry) (detach func()) {
	cancelEvents := reg.SubscribeAll(func(ev region.Event) {
		j.push(Record{
			Time:      time.Now(),
			Type:      ev.Kind.String(),
			Tick:      ev.Tick,
			Region:    uint64(ev.Region),
			Agent:     uint64(ev.Agent),
			Synthetic: ev.Synthetic,
		})
	})
	cancelLifecycle := reg.OnLifecycle(func(ev region.LifecycleEvent) {
		j.push(Record{
			Time:       time.Now(),
			Type:       "region_" + ev.Kind.String(),
			Generation: ev.Generation,
			Region:     uint64(ev.Region),
		})
	})
	return func() {
		cancelEvents()
		cancelLifecycle()
	}
}

// push never blocks; records are dropped when the writer falls behind.
func (j *Journal) push(r Record) {
	select {
	case j.ch <- r:
	default:
		if n := j.dropped.Add(1); n&(n-1) == 0 {
			slog.Warn("journal queue full, dropping records", "dropped", n)
		}
	}
}

// Dropped returns the number of records lost to a full queue.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Run writes queued records until ctx is cancelled, then drains the queue
// and closes the current file.
func (j *Journal) Run(ctx context.Context) error {
	flush := time.NewTicker(time.Second)
	defer flush.Stop()

	slog.Info("journal started", "dir", j.w.dir, "prefix", j.w.prefix)

	for {
		select {
		case <-ctx.Done():
			j.drain()
			if err := j.w.Close(); err != nil {
				slog.Error("closing journal", "error", err)
			}
			slog.Info("journal stopped", "dropped", j.Dropped())
			return ctx.Err()

		case r := <-j.ch:
			if err := j.w.Write(r); err != nil {
				slog.Error("writing journal record", "error", err)
			}

		case <-flush.C:
			if err := j.w.Flush(); err != nil {
				slog.Error("flushing journal", "error", err)
			}
		}
	}
}

func (j *Journal) drain() {
	for {
		select {
		case r := <-j.ch:
			if err := j.w.Write(r); err != nil {
				slog.Error("writing journal record", "error", err)
			}
		default:
			return
		}
	}
}

// ReadFile decodes every record of one journal file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()

	var out []Record
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return out, fmt.Errorf("decoding journal line %d: %w", len(out)+1, err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("reading journal: %w", err)
	}
	return out, nil
}

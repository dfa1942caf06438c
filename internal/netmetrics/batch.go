package netmetrics

import (
	"errors"
	"fmt"
	"iter"
	"slices"
)

var errEmptyBatch = errors.New("backend returned no data")

// Batch is the result of a single combined backend read.
type Batch struct {
	Stats       NetworkStats
	TCPPorts    []uint16
	UDPPorts    []uint16
	Established []Connection
}

// BatchReader returns every category in one call.
type BatchReader interface {
	ReadBatch() (*Batch, error)
}

// BatchFunc adapts an ordinary function to BatchReader.
type BatchFunc func() (*Batch, error)

func (f BatchFunc) ReadBatch() (*Batch, error) { return f() }

// BatchBackend serves the Backend contract from a BatchReader. Each View
// performs exactly one ReadBatch; failures are not retried.
type BatchBackend struct {
	name   string
	reader BatchReader
}

// NewBatchBackend wraps r under the given backend name.
func NewBatchBackend(name string, r BatchReader) *BatchBackend {
	return &BatchBackend{name: name, reader: r}
}

func (b *BatchBackend) Name() string { return b.name }

func (b *BatchBackend) View(fn func(View) error) error {
	batch, err := b.reader.ReadBatch()
	if err == nil && batch == nil {
		err = errEmptyBatch
	}
	if err != nil {
		log.Error("batch read failed", "backend", b.name, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrCollectionFailed, b.name, err)
	}
	return fn(batchView{batch: batch})
}

type batchView struct {
	batch *Batch
}

func (v batchView) Stats() NetworkStats { return v.batch.Stats }

func (v batchView) Records(cat Category) iter.Seq[Connection] {
	switch cat {
	case Established:
		return slices.Values(v.batch.Established)
	case TCPListen:
		return portSeq(v.batch.TCPPorts)
	case UDPListen:
		return portSeq(v.batch.UDPPorts)
	default:
		return func(func(Connection) bool) {}
	}
}

func portSeq(ports []uint16) iter.Seq[Connection] {
	return func(yield func(Connection) bool) {
		for _, p := range ports {
			if !yield(Connection{LocalPort: p}) {
				return
			}
		}
	}
}

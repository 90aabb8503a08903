package bus

import (
	"context"
	"log"
	"sync"
)

// FanOut broadcasts values from a single input channel to N output channels.
// If an output channel is full, the value is dropped for that consumer to
// prevent a slow consumer from blocking the pipeline.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs []chan T
	names   []string
	bufSize int

	// OnDrop is called when a value is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for output channels.
func New[T any](outputBufferSize int) *FanOut[T] {
	return &FanOut[T]{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new output channel. Subscribe before Run.
func (f *FanOut[T]) Subscribe() <-chan T {
	return f.SubscribeNamed("")
}

// SubscribeNamed is Subscribe with a label used in drop logs and Name.
func (f *FanOut[T]) SubscribeNamed(name string) <-chan T {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.names = append(f.names, name)
	f.mu.Unlock()
	return ch
}

// Name returns the label of subscriber idx, or "" if unnamed.
func (f *FanOut[T]) Name(idx int) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if idx < 0 || idx >= len(f.names) {
		return ""
	}
	return f.names[idx]
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed; outputs are closed on return.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- v:
				default:
					if f.OnDrop != nil {
						f.OnDrop(i)
					} else {
						log.Printf("[bus] output channel %d (%s) full, dropping value", i, f.names[i])
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat reports (length, capacity) of one subscriber channel.
// Used for reporting channel saturation percentage.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Name: f.names[i], Len: len(ch), Cap: cap(ch)}
	}
	return stats
}

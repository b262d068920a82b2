package inference

import (
	"context"
	"io"
)

// ChanStream adapts a push-style producer (a callback API or a simple
// loop) to Stream.
type ChanStream struct {
	ch     chan string
	cancel context.CancelFunc
	// err is written before ch is closed and read only after.
	err error
}

// EmitFunc hands a delta to the consumer. It fails once the stream is
// canceled or closed.
type EmitFunc func(delta string) error

// NewChanStream runs produce in a goroutine. Returning nil from produce
// ends the stream with io.EOF; any other error is what Recv reports after
// the last delta.
func NewChanStream(ctx context.Context, produce func(ctx context.Context, emit EmitFunc) error) *ChanStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &ChanStream{
		ch:     make(chan string),
		cancel: cancel,
	}

	emit := func(delta string) error {
		select {
		case s.ch <- delta:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		err := produce(ctx, emit)
		if err == nil {
			err = io.EOF
		}
		s.err = err
		close(s.ch)
	}()

	return s
}

func (s *ChanStream) Recv() (string, error) {
	delta, ok := <-s.ch
	if !ok {
		return "", s.err
	}
	return delta, nil
}

// Close stops the producer. It is safe to call more than once.
func (s *ChanStream) Close() error {
	s.cancel()
	return nil
}

var _ Stream = (*ChanStream)(nil)

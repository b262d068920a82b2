package session

import (
	"context"
	"sync"

	"github.com/go-go-golems/parley/pkg/attachments"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/inference"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/pkg/errors"
)

type produceFunc func(ctx context.Context, emit inference.EmitFunc) error

// fakeEngine replays one scripted producer per Stream call and records
// every request window. Without a script it answers "ok".
type fakeEngine struct {
	mu        sync.Mutex
	requests  [][]inference.Message
	runs      []inference.RunMeta
	scripts   []produceFunc
	streamErr error
}

func (f *fakeEngine) Model() string { return "fake" }

func (f *fakeEngine) Stream(ctx context.Context, messages []inference.Message) (inference.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, messages)
	meta, _ := inference.RunMetaFromContext(ctx)
	f.runs = append(f.runs, meta)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	produce := replies("ok")
	if len(f.scripts) > 0 {
		produce = f.scripts[0]
		f.scripts = f.scripts[1:]
	}
	return inference.NewChanStream(ctx, produce), nil
}

func (f *fakeEngine) script(p ...produceFunc) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, p...)
	return f
}

func (f *fakeEngine) calls() [][]inference.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]inference.Message{}, f.requests...)
}

func (f *fakeEngine) runMetas() []inference.RunMeta {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]inference.RunMeta{}, f.runs...)
}

func replies(deltas ...string) produceFunc {
	return failsAfter(nil, deltas...)
}

func failsAfter(err error, deltas ...string) produceFunc {
	return func(ctx context.Context, emit inference.EmitFunc) error {
		for _, d := range deltas {
			if err := emit(d); err != nil {
				return err
			}
		}
		return err
	}
}

// gated emits whatever the test sends on ch and completes when ch closes.
func gated(ch <-chan string) produceFunc {
	return func(ctx context.Context, emit inference.EmitFunc) error {
		for {
			select {
			case d, ok := <-ch:
				if !ok {
					return nil
				}
				if err := emit(d); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

type fakeUploader struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (u *fakeUploader) Upload(ctx context.Context, data []byte) (attachments.Upload, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.err != nil {
		return attachments.Upload{}, u.err
	}
	return attachments.Upload{URL: "https://img.example/" + string(data) + ".png", PublicID: string(data)}, nil
}

type failingStore struct{}

func (failingStore) Append(ctx context.Context, r store.Record) error {
	return errors.New("disk on fire")
}

func (failingStore) ListRecent(ctx context.Context, limit int, options ...store.ListOption) ([]store.Record, error) {
	return nil, errors.New("disk on fire")
}

func (failingStore) Close() error { return nil }

// signalSink closes seen the first time an event of type t is published.
func signalSink(t events.EventType) (events.EventSink, <-chan struct{}) {
	seen := make(chan struct{})
	var once sync.Once
	return events.SinkFunc(func(e events.Event) error {
		if e.Type() == t {
			once.Do(func() { close(seen) })
		}
		return nil
	}), seen
}

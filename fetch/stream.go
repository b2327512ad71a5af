package fetch

import (
	"context"
	"io"
	"sync"

	"github.com/segmentio/ksuid"
	"github.com/whisper-darkly/sticky-fetch/format"
	"github.com/whisper-darkly/sticky-fetch/stream"
)

// Hooks observe a download. All of them run on the download's own
// goroutine, in order: OnInfo, then OnRequest/OnResponse per attempt with
// OnProgress per chunk, then exactly one of OnEnd, OnError or OnAbort.
// Hooks may call Stream.Cancel.
type Hooks struct {
	OnInfo     func(meta *format.Metadata, r *format.Rendition)
	OnRequest  func(req *stream.Request)
	OnResponse func(resp *stream.Response)
	OnProgress func(chunk int, downloaded, total int64)
	OnEnd      func()
	OnError    func(err error)
	OnAbort    func()
}

// Outcome is the terminal state of a Stream.
type Outcome int

const (
	Pending Outcome = iota
	Completed
	Failed
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Aborted:
		return "aborted"
	}
	return "pending"
}

// Stream is the byte stream of one download. Reads return io.EOF after a
// complete transfer, the fatal error after a failure and ErrAborted after
// Cancel.
type Stream struct {
	id    ksuid.KSUID
	hooks Hooks

	pr *io.PipeReader
	pw *io.PipeWriter

	ctx       context.Context
	cancelCtx context.CancelFunc
	stopWatch func() bool

	mu        sync.Mutex
	cancelled bool
	outcome   Outcome
	err       error
	done      chan struct{}
}

func newStream(parent context.Context, hooks Hooks) *Stream {
	ctx, cancel := context.WithCancel(parent)
	pr, pw := io.Pipe()
	s := &Stream{
		id:        ksuid.New(),
		hooks:     hooks,
		pr:        pr,
		pw:        pw,
		ctx:       ctx,
		cancelCtx: cancel,
		done:      make(chan struct{}),
	}
	s.stopWatch = context.AfterFunc(parent, s.Cancel)
	return s
}

// ID identifies the download in log events.
func (s *Stream) ID() string { return s.id.String() }

func (s *Stream) Read(p []byte) (int, error) { return s.pr.Read(p) }

// Close cancels an unfinished download and releases the reader.
func (s *Stream) Close() error {
	s.Cancel()
	return s.pr.Close()
}

// Cancel aborts the download. It is idempotent, safe from any goroutine or
// hook, and a no-op once the download reached its terminal state.
func (s *Stream) Cancel() {
	s.mu.Lock()
	if s.cancelled || s.outcome != Pending {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.mu.Unlock()

	s.cancelCtx()
	s.pw.CloseWithError(ErrAborted)
}

// Done is closed after the terminal hook returned.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Wait blocks until the download finished and returns Err.
func (s *Stream) Wait() error {
	<-s.done
	return s.Err()
}

// Outcome reports the terminal state, Pending while running.
func (s *Stream) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Err returns the fatal error of a failed download, nil otherwise.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// finish records the terminal state and emits the single terminal hook.
// A cancellation observed before this point wins over err.
func (s *Stream) finish(err error) Outcome {
	s.mu.Lock()
	switch {
	case s.cancelled:
		s.outcome = Aborted
	case err != nil:
		s.outcome, s.err = Failed, err
	default:
		s.outcome = Completed
	}
	outcome := s.outcome
	s.mu.Unlock()

	s.stopWatch()
	switch outcome {
	case Completed:
		s.pw.Close()
		if s.hooks.OnEnd != nil {
			s.hooks.OnEnd()
		}
	case Failed:
		s.pw.CloseWithError(err)
		if s.hooks.OnError != nil {
			s.hooks.OnError(err)
		}
	case Aborted:
		if s.hooks.OnAbort != nil {
			s.hooks.OnAbort()
		}
	}
	s.cancelCtx()
	close(s.done)
	return outcome
}

// aborted reports whether the download must stop. Cancellation of the
// parent context counts as Cancel.
func (s *Stream) aborted() bool {
	if s.ctx.Err() != nil {
		s.Cancel()
	}
	return s.isCancelled()
}

// Package recorder writes downloads to disk: templated output paths,
// lifecycle events, whole-download retries that continue where the file
// left off, and a post-processing hook.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/whisper-darkly/sticky-fetch/fetch"
	"github.com/whisper-darkly/sticky-fetch/format"
	"github.com/whisper-darkly/sticky-fetch/logger"
	"github.com/whisper-darkly/sticky-fetch/stream"
	"github.com/whisper-darkly/sticky-fetch/units"
)

// ErrExecFatal is returned when --exec exits non-zero and ExecFatal is set.
var ErrExecFatal = errors.New("exec returned non-zero (STICKY_EXEC_FATAL)")

// Exit codes returned by Run.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitNotFound = 2
	ExitBlocked  = 3
)

// Config holds all recording parameters.
type Config struct {
	Client  *fetch.Client
	ID      string
	Driver  string
	Options fetch.Options

	OutPattern string   // template for the output path without extension; "-" = Stdout
	LogPattern string   // template for a log file path (empty = no file logging)
	ExecArgs   []string // command + args run on the finished file ({} = file path)
	ExecFatal  bool     // non-zero exec exit fails the run

	Attempts    int           // whole-download attempts for transient failures
	RetryDelay  time.Duration // delay between attempts
	RetryJitter time.Duration // max random jitter added to RetryDelay

	// Progress is called with the bytes written to the output so far and the
	// expected total (-1 if unknown).
	Progress func(written, total int64)
	Stdout   io.Writer

	Log *logger.Logger
}

// Recorder runs one session: resolve, download, retry, post-process.
type Recorder struct {
	cfg Config
	log *logger.Logger

	sessionStart time.Time
	logFile      *os.File

	// output state carried across attempts
	outFile string
	written int64
	started bool
}

// kv is a shorthand for logger.KV.
func kv(key, value string) logger.KV { return logger.KV{Key: key, Value: value} }

// New creates a Recorder with the given config.
func New(cfg Config) *Recorder {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	if cfg.OutPattern == "" {
		cfg.OutPattern = "{{.Title}}_{{.Itag}}"
	}
	return &Recorder{cfg: cfg, log: cfg.Log}
}

// retryDelay returns the configured retry delay plus a random jitter in [0, RetryJitter).
func (r *Recorder) retryDelay() time.Duration {
	delay := r.cfg.RetryDelay
	if r.cfg.RetryJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(r.cfg.RetryJitter)))
	}
	return delay
}

// Run executes the session and returns an exit code.
func (r *Recorder) Run(ctx context.Context) int {
	r.sessionStart = time.Now()

	if r.cfg.LogPattern != "" {
		if err := r.openLogFile(); err != nil {
			r.log.Error("failed to open log file: %v", err)
			return ExitError
		}
		defer r.closeLogFile()
	}

	r.log.Event("SESSION START",
		kv("source", r.cfg.ID),
		kv("driver", r.cfg.Driver))

	code, attempts := r.session(ctx)
	if r.outFile != "" && r.written == 0 {
		os.Remove(r.outFile)
	}

	r.log.Event("SESSION END",
		kv("source", r.cfg.ID),
		kv("attempts", strconv.Itoa(attempts)),
		kv("size", units.FormatSize(r.written)),
		kv("duration", units.FormatDuration(time.Since(r.sessionStart))))
	return code
}

func (r *Recorder) session(ctx context.Context) (code, attempts int) {
	for attempt := 1; ; attempt++ {
		err := r.download(ctx, attempt)
		if err == nil {
			if err := r.finishFile(); err != nil {
				return ExitError, attempt
			}
			return ExitOK, attempt
		}
		if ctx.Err() != nil {
			r.log.Info("interrupted: %v", err)
			return ExitOK, attempt
		}

		switch stream.Classify(err) {
		case stream.Ended:
			r.log.Warn("%s is not available: %v", r.cfg.ID, err)
			return ExitNotFound, attempt
		case stream.Blocked:
			r.log.Error("access blocked: %v", err)
			return ExitBlocked, attempt
		case stream.Fatal:
			r.log.Error("%v", err)
			return ExitError, attempt
		}

		if attempt >= r.cfg.Attempts {
			r.log.Error("%v (giving up after %d attempts)", err, attempt)
			return ExitError, attempt
		}
		delay := r.retryDelay()
		r.log.Warn("%v (retrying in %s)", err, units.FormatDuration(delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ExitOK, attempt
		}
	}
}

type opened struct {
	w    io.Writer
	file *os.File
	err  error
}

// download runs one attempt. Later attempts resume after the bytes already
// written and append to the same file.
func (r *Recorder) download(ctx context.Context, attempt int) error {
	opts := r.cfg.Options
	if r.written > 0 {
		opts.Range.Start += r.written
	}

	ready := make(chan opened, 1)
	var total int64 = -1
	base := r.written

	hooks := opts.Hooks
	opts.Hooks.OnInfo = func(meta *format.Metadata, rend *format.Rendition) {
		if hooks.OnInfo != nil {
			hooks.OnInfo(meta, rend)
		}
		ready <- r.open(meta, rend)
	}
	opts.Hooks.OnProgress = func(chunk int, downloaded, t int64) {
		if hooks.OnProgress != nil {
			hooks.OnProgress(chunk, downloaded, t)
		}
		if t >= 0 {
			total = base + t
		}
		if r.cfg.Progress != nil {
			r.cfg.Progress(base+downloaded, total)
		}
	}

	start := time.Now()
	s := r.cfg.Client.Download(ctx, r.cfg.ID, opts)
	defer s.Close()

	var out opened
	select {
	case out = <-ready:
	case <-s.Done():
		select {
		case out = <-ready:
		default:
			if s.Outcome() == fetch.Aborted {
				if err := ctx.Err(); err != nil {
					return err
				}
				return fetch.ErrAborted
			}
			return s.Err()
		}
	}
	if out.err != nil {
		s.Cancel()
		return out.err
	}
	if out.file != nil {
		defer out.file.Close()
	}

	if !r.started {
		r.started = true
		r.log.Event("FILE START",
			kv("file", r.outFile),
			kv("stream", s.ID()))
	}

	w := &countingWriter{w: out.w}
	io.Copy(w, s)
	r.written += w.n
	if w.err != nil {
		s.Cancel()
	}
	s.Wait()

	trigger := "complete"
	err := s.Err()
	switch {
	case w.err != nil:
		trigger = "write_error"
		err = fmt.Errorf("write output: %w", w.err)
	case s.Outcome() == fetch.Aborted:
		trigger = "cancelled"
		err = ctx.Err()
		if err == nil {
			err = fetch.ErrAborted
		}
	case err != nil:
		trigger = "error"
	}

	r.log.Event("FILE PROGRESS",
		kv("file", r.outFile),
		kv("attempt", strconv.Itoa(attempt)),
		kv("size", units.FormatSize(r.written)),
		kv("duration", units.FormatDuration(time.Since(start))),
		kv("trigger", trigger))
	return err
}

// countingWriter records bytes written and the first write error.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}

// open prepares the output for the resolved rendition. It runs on the
// download goroutine before any data arrives.
func (r *Recorder) open(meta *format.Metadata, rend *format.Rendition) opened {
	if r.cfg.OutPattern == "-" {
		return opened{w: r.cfg.Stdout}
	}

	if r.outFile == "" {
		data := NewTemplateData(r.cfg.ID, r.cfg.Driver, r.sessionStart, meta, rend)
		base, err := RenderTemplate(r.cfg.OutPattern, data)
		if err != nil {
			return opened{err: fmt.Errorf("render output template: %w", err)}
		}
		ext := rend.Container
		if ext == "" {
			ext = "bin"
		}
		r.outFile = base + "." + ext
	}

	if err := os.MkdirAll(filepath.Dir(r.outFile), 0755); err != nil {
		return opened{err: fmt.Errorf("create output directory: %w", err)}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if r.written > 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(r.outFile, flags, 0644)
	if err != nil {
		return opened{err: fmt.Errorf("open output: %w", err)}
	}
	r.log.Info("downloading to %s", r.outFile)
	return opened{w: f, file: f}
}

// finishFile reports the finished file and runs the exec hook on it.
func (r *Recorder) finishFile() error {
	if r.outFile == "" {
		return nil
	}
	var size int64
	if fi, err := os.Stat(r.outFile); err == nil {
		size = fi.Size()
	}
	r.log.Event("FILE FINISH",
		kv("file", r.outFile),
		kv("size", units.FormatSize(size)),
		kv("duration", units.FormatDuration(time.Since(r.sessionStart))))

	if size > 0 && len(r.cfg.ExecArgs) > 0 {
		return r.runExec(r.outFile)
	}
	return nil
}

// OutFile returns the output path, empty until a rendition was resolved.
func (r *Recorder) OutFile() string { return r.outFile }

// runExec executes the configured command with {} replaced by the file path.
func (r *Recorder) runExec(file string) error {
	args := make([]string, len(r.cfg.ExecArgs))
	for i, a := range r.cfg.ExecArgs {
		args[i] = strings.ReplaceAll(a, "{}", file)
	}

	r.log.Info("exec: %s", strings.Join(args, " "))

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = r.log.Writer(logger.LevelInfo)
	cmd.Stderr = r.log.Writer(logger.LevelWarn)

	if err := cmd.Run(); err != nil {
		if r.cfg.ExecFatal {
			r.log.Error("exec failed (STICKY_EXEC_FATAL): %s → %v", args[0], err)
			return ErrExecFatal
		}
		r.log.Warn("exec failed: %v", err)
	}
	return nil
}

// --- Log file management ---

func (r *Recorder) openLogFile() error {
	data := NewTemplateData(r.cfg.ID, r.cfg.Driver, r.sessionStart, nil, nil)

	logPath, err := RenderTemplate(r.cfg.LogPattern, data)
	if err != nil {
		return fmt.Errorf("render log template: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	r.logFile = f
	r.log.SetFile(f)
	r.log.Info("logging to %s", logPath)
	return nil
}

func (r *Recorder) closeLogFile() {
	if r.logFile != nil {
		r.log.SetFile(nil)
		r.logFile.Close()
		r.logFile = nil
	}
}

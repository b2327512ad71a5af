package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/whisper-darkly/sticky-fetch/fetch"
	"github.com/whisper-darkly/sticky-fetch/recorder"
	"github.com/whisper-darkly/sticky-fetch/units"
)

type getFlags struct {
	out         string
	begin       string
	rng         string
	attempts    int
	retryDelay  string
	retryJitter string
	exec        string
	execFatal   bool
	noProgress  bool
}

func newGetCmd(a *app) *cobra.Command {
	var f getFlags

	cmd := &cobra.Command{
		Use:   "get <id> [output-template]",
		Short: "Download a rendition to a file",
		Long: `Download the selected rendition of <id> to a templated path. The container
extension is added to the path. Use "-" as the template to write to stdout.

Template fields: {{.ID}} {{.Driver}} {{.Title}} {{.Author}} {{.Itag}}
{{.Container}} {{.Quality}} {{.Session.Year}} ... {{.Session.Second}}

Exit codes: 0=ok  1=error  2=not found  3=blocked`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 && f.out == "" {
				f.out = args[1]
			}
			code, err := a.runGet(cmd, args[0], f)
			if err != nil {
				return err
			}
			if code != recorder.ExitOK {
				return &exitError{code: code}
			}
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.out, "out", "o", envOrDefault("STICKY_OUT", ""), `Output path template without extension ("-" = stdout)`)
	fs.StringVarP(&f.begin, "begin", "b", "", "Start position in the media (e.g. 1m30s, 00:01:30.000, 90000)")
	fs.StringVarP(&f.rng, "range", "r", "", "Byte range start-end or start-")
	fs.IntVar(&f.attempts, "attempts", 0, "Whole-download attempts on transient errors (default 1)")
	fs.StringVar(&f.retryDelay, "retry-delay", "", "Delay between attempts (default 00:00:05, e.g. 5s)")
	fs.StringVar(&f.retryJitter, "retry-jitter", "", "Max random jitter added to each retry delay (0=disabled)")
	// Only used for --help and the single-string form; see extractExecArgs.
	fs.StringVarP(&f.exec, "exec", "e", "", "Command to run on the finished file (like find -exec: {} \\;)")
	fs.BoolVar(&f.execFatal, "exec-fatal", os.Getenv("STICKY_EXEC_FATAL") != "", "Fail when --exec exits non-zero")
	fs.BoolVar(&f.noProgress, "no-progress", false, "Disable the progress bar")
	return cmd
}

func (a *app) runGet(cmd *cobra.Command, id string, f getFlags) (int, error) {
	rng, err := fetch.ParseRange(f.rng)
	if err != nil {
		return 0, err
	}
	if f.begin != "" {
		if _, err := units.ParseHumanTime(f.begin); err != nil {
			return 0, fmt.Errorf("invalid --begin: %w", err)
		}
	}
	retryDelay, err := durationVal(f.retryDelay, "STICKY_RETRY_DELAY", 0)
	if err != nil {
		return 0, err
	}
	retryJitter, err := durationVal(f.retryJitter, "STICKY_RETRY_JITTER", 0)
	if err != nil {
		return 0, err
	}

	execArgs := a.execArgs
	if len(execArgs) == 0 && f.exec != "" {
		execArgs = tokenize(f.exec)
	}

	toStdout := f.out == "-"
	if toStdout {
		// stdout carries the media
		a.log.SetStdout(os.Stderr)
	}

	var (
		bar      *progressbar.ProgressBar
		barTotal int64
	)
	progress := func(written, total int64) {
		switch {
		case bar == nil:
			bar, barTotal = newProgressBar(total), total
		case total >= 0 && total != barTotal:
			bar.ChangeMax64(total)
			barTotal = total
		}
		bar.Set64(written)
	}
	if f.noProgress || toStdout || a.cfg.Log.File != "" {
		progress = nil
	}

	rec := recorder.New(recorder.Config{
		Client: a.client,
		ID:     id,
		Driver: normalizeDriverName(a.cfg.Driver),
		Options: fetch.Options{
			Range:  rng,
			Begin:  f.begin,
			Policy: a.cfg.Policy(),
		},
		OutPattern:  f.out,
		LogPattern:  a.cfg.Log.File,
		ExecArgs:    execArgs,
		ExecFatal:   f.execFatal,
		Attempts:    intVal(f.attempts, "STICKY_ATTEMPTS", 1),
		RetryDelay:  retryDelay,
		RetryJitter: retryJitter,
		Progress:    progress,
		Stdout:      cmd.OutOrStdout(),
		Log:         a.log,
	})

	code := rec.Run(cmd.Context())
	if bar != nil {
		bar.Finish()
	}
	return code, nil
}

func newProgressBar(total int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionShowCount(),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetDescription("Downloading"),
	)
}

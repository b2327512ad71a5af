package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/whisper-darkly/sticky-fetch/logger"
	"github.com/whisper-darkly/sticky-fetch/recorder"
	"github.com/whisper-darkly/sticky-fetch/units"
)

// Set via ldflags at build time: -ldflags "-X main.version=..."
var version = "dev"

// exitError carries a process exit code out of a command.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit code %d", e.code) }

func main() {
	// Extract find-style --exec args from os.Args before cobra parses them.
	// Supports: --exec cmd arg1 {} arg2 \;
	//           -e cmd arg1 {} arg2 \;
	// If no terminating ";" is found, falls back to single-string parsing.
	var execArgs []string
	execArgs, os.Args = extractExecArgs(os.Args)

	root, a := newRootCmd(execArgs)
	err := root.Execute()
	a.close()

	var ee *exitError
	switch {
	case err == nil:
	case errors.As(err, &ee):
		os.Exit(ee.code)
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(recorder.ExitError)
	}
}

// extractExecArgs scans args for --exec/-e and extracts all tokens up to
// a terminating ";" argument, just like find(1) -exec.
//
// Returns the extracted command tokens (without --exec and ;) and the remaining
// args with the exec portion removed.
//
// If --exec is not found, or no terminating ";" exists, returns nil and the
// original args unchanged (the flag parser handles it as a single string).
func extractExecArgs(args []string) (execTokens []string, remaining []string) {
	for i := 1; i < len(args); i++ {
		a := args[i]
		if a != "--exec" && a != "-e" {
			continue
		}

		semicolonIdx := -1
		for j := i + 1; j < len(args); j++ {
			if args[j] == ";" {
				semicolonIdx = j
				break
			}
		}
		if semicolonIdx == -1 {
			return nil, args
		}

		execTokens = args[i+1 : semicolonIdx]
		remaining = make([]string, 0, len(args)-(semicolonIdx-i+1))
		remaining = append(remaining, args[:i]...)
		remaining = append(remaining, args[semicolonIdx+1:]...)
		return execTokens, remaining
	}
	return nil, args
}

// tokenize splits a string into tokens, respecting single and double quotes.
// Used when --exec is passed as a single string (e.g. -e 'cmd {} arg').
func tokenize(s string) []string {
	var tokens []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	for _, r := range s {
		switch {
		case (r == '"' || r == '\'') && !inQuote:
			inQuote = true
			quoteChar = r
		case r == quoteChar && inQuote:
			inQuote = false
			quoteChar = 0
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// normalizeDriverName handles common aliases.
func normalizeDriverName(name string) string {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "", "url", "http", "https", "direct":
		return "direct"
	case "m3u8", "playlist", "hls":
		return "hls"
	case "yt", "youtube", "watch", "info":
		return "info"
	default:
		return n
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// durationVal resolves a time.Duration from: CLI string (if non-empty) → ENV → default.
func durationVal(cliVal, envKey string, def time.Duration) (time.Duration, error) {
	raw := cliVal
	if raw == "" {
		raw = os.Getenv(envKey)
	}
	if raw == "" {
		return def, nil
	}
	d, err := units.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", envKey, err)
	}
	return d, nil
}

// intVal resolves an integer from: CLI value (if non-zero) → ENV → default.
func intVal(cliVal int, envKey string, def int) int {
	if cliVal != 0 {
		return cliVal
	}
	if v := os.Getenv(envKey); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

// newLogger builds the process logger from the loaded configuration.
func newLogger(level, format string) *logger.Logger {
	log := logger.New(logger.ParseLevel(level))
	log.SetFormat(logger.ParseFormat(format))
	return log
}

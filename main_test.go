package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/whisper-darkly/sticky-fetch/driver"
	"github.com/whisper-darkly/sticky-fetch/format"
	"github.com/whisper-darkly/sticky-fetch/recorder"
	"github.com/whisper-darkly/sticky-fetch/stream"
)

func TestExtractExecArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantExec []string
		wantRest []string
	}{
		{
			"find style",
			[]string{"sticky-fetch", "get", "--exec", "mv", "{}", "/done/", ";", "abc"},
			[]string{"mv", "{}", "/done/"},
			[]string{"sticky-fetch", "get", "abc"},
		},
		{
			"short flag",
			[]string{"sticky-fetch", "get", "abc", "-e", "echo", "{}", ";"},
			[]string{"echo", "{}"},
			[]string{"sticky-fetch", "get", "abc"},
		},
		{
			"no terminator",
			[]string{"sticky-fetch", "get", "-e", "echo {}", "abc"},
			nil,
			[]string{"sticky-fetch", "get", "-e", "echo {}", "abc"},
		},
		{
			"no exec",
			[]string{"sticky-fetch", "info", "abc"},
			nil,
			[]string{"sticky-fetch", "info", "abc"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, rest := extractExecArgs(tt.args)
			if !reflect.DeepEqual(exec, tt.wantExec) {
				t.Errorf("exec = %q, want %q", exec, tt.wantExec)
			}
			if !reflect.DeepEqual(rest, tt.wantRest) {
				t.Errorf("rest = %q, want %q", rest, tt.wantRest)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize(`cp {} "/media/my files/" 'a b'  c`)
	want := []string{"cp", "{}", "/media/my files/", "a b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tokenize = %q, want %q", got, want)
	}
}

func TestNormalizeDriverName(t *testing.T) {
	tests := map[string]string{
		"":        "direct",
		" HTTPS ": "direct",
		"m3u8":    "hls",
		"YT":      "info",
		"custom":  "custom",
	}
	for in, want := range tests {
		if got := normalizeDriverName(in); got != want {
			t.Errorf("normalizeDriverName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDurationVal(t *testing.T) {
	t.Setenv("STICKY_TEST_DELAY", "00:01:00")

	if d, err := durationVal("5s", "STICKY_TEST_DELAY", 0); err != nil || d != 5*time.Second {
		t.Errorf("cli value: %v, %v", d, err)
	}
	if d, err := durationVal("", "STICKY_TEST_DELAY", 0); err != nil || d != time.Minute {
		t.Errorf("env value: %v, %v", d, err)
	}
	if d, err := durationVal("", "STICKY_TEST_UNSET", 3*time.Second); err != nil || d != 3*time.Second {
		t.Errorf("default: %v, %v", d, err)
	}
	if _, err := durationVal("soon", "STICKY_TEST_DELAY", 0); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestIntVal(t *testing.T) {
	t.Setenv("STICKY_TEST_ATTEMPTS", "4")
	if n := intVal(2, "STICKY_TEST_ATTEMPTS", 1); n != 2 {
		t.Errorf("cli value = %d", n)
	}
	if n := intVal(0, "STICKY_TEST_ATTEMPTS", 1); n != 4 {
		t.Errorf("env value = %d", n)
	}
	if n := intVal(0, "STICKY_TEST_UNSET", 1); n != 1 {
		t.Errorf("default = %d", n)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{stream.ErrNotFound, recorder.ExitNotFound},
		{stream.ErrForbidden, recorder.ExitBlocked},
		{stream.ErrBadID, recorder.ExitError},
		{errors.New("boom"), recorder.ExitError},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestResolverFor(t *testing.T) {
	client := stream.NewHTTPClient(stream.HTTPConfig{})

	r, err := resolverFor("info", "http://meta.invalid", client)
	if err != nil {
		t.Fatal(err)
	}
	if info, ok := r.(*driver.Info); !ok || info.Endpoint != "http://meta.invalid" || info.Client != client {
		t.Errorf("info driver not configured: %#v", r)
	}
	if r, _ := resolverFor("hls", "", client); r.(*driver.HLS).Client != client {
		t.Error("hls driver should share the client")
	}
	if _, err := resolverFor("nope", "", client); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestPrintInfo(t *testing.T) {
	meta := &format.Metadata{
		Title: "Clip",
		Renditions: []format.Rendition{
			{Itag: 140, Container: "mp4", AudioEncoding: "aac", AudioBitrate: 128},
			{Itag: 18, Container: "mp4", Resolution: "360p", Encoding: "H.264", Bitrate: "0.5", AudioEncoding: "aac", AudioBitrate: 96},
		},
	}
	var buf bytes.Buffer
	if err := printInfo(&buf, meta, 18); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if !strings.HasPrefix(out, "Clip\n") || len(lines) != 5 {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.HasPrefix(lines[3], "*") || !strings.Contains(lines[3], "H.264 0.5Mbps") {
		t.Errorf("selected rendition should be first and marked: %q", lines[3])
	}
	if !strings.Contains(lines[4], "aac 128kbps") {
		t.Errorf("audio line = %q", lines[4])
	}
}

func mediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/clip.mp4" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("not really an mp4"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, a := newRootCmd(nil)
	defer a.close()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "sticky-fetch dev\n" {
		t.Errorf("output = %q", out)
	}
}

func TestGetCommand(t *testing.T) {
	srv := mediaServer(t)
	dir := t.TempDir()

	if _, err := execute(t, "get", "--no-progress", "-d", "url", srv.URL+"/clip.mp4", filepath.Join(dir, "{{.Title}}")); err != nil {
		t.Fatalf("get: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "clip.mp4.mp4"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "not really an mp4" {
		t.Errorf("file content = %q", data)
	}

	_, err = execute(t, "get", "--no-progress", srv.URL+"/missing.mp4", filepath.Join(dir, "missing"))
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != recorder.ExitNotFound {
		t.Errorf("missing media: err = %v, want exit code %d", err, recorder.ExitNotFound)
	}
}

func TestGetCommandStdout(t *testing.T) {
	srv := mediaServer(t)
	out, err := execute(t, "get", srv.URL+"/clip.mp4", "-")
	if err != nil {
		t.Fatal(err)
	}
	if out != "not really an mp4" {
		t.Errorf("stdout = %q", out)
	}
}

func TestInfoCommand(t *testing.T) {
	srv := mediaServer(t)

	out, err := execute(t, "info", "--json", srv.URL+"/clip.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"title": "clip.mp4"`) || !strings.Contains(out, `"container": "mp4"`) {
		t.Errorf("unexpected json:\n%s", out)
	}

	_, err = execute(t, "info", "not a url")
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != recorder.ExitError {
		t.Errorf("bad id: err = %v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	if _, err := execute(t, "info", "--log-level", "loud", "http://x.invalid/a.mp4"); err == nil {
		t.Error("expected error for invalid log level")
	}
}

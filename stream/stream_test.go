package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/whisper-darkly/sticky-fetch/cookies"
	"github.com/whisper-darkly/sticky-fetch/format"
)

func TestSendDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/moved" {
			http.Redirect(w, r, "/final", http.StatusFound)
			return
		}
		io.WriteString(w, "final")
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{})
	resp, err := c.Send(context.Background(), srv.URL+"/moved", Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/final" {
		t.Errorf("Location = %q, want /final", loc)
	}
}

func TestSendAppliesOptions(t *testing.T) {
	var gotUA, gotRange, gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		gotRange = r.Header.Get("Range")
		if c, err := r.Cookie("sid"); err == nil {
			gotCookie = c.Value
		}
		w.Header().Set("Content-Length", "5")
		io.WriteString(w, "hello")
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{UserAgent: "default-agent"})
	opts := Options{Header: http.Header{"Range": {"bytes=0-4"}}, Cookies: "sid=xyz; broken"}
	resp, err := c.Send(context.Background(), srv.URL, opts)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if string(body) != "hello" || resp.ContentLength != 5 {
		t.Errorf("body = %q (len %d)", body, resp.ContentLength)
	}
	if gotUA != "default-agent" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotRange != "bytes=0-4" {
		t.Errorf("Range = %q", gotRange)
	}
	if gotCookie != "xyz" {
		t.Errorf("cookie sid = %q", gotCookie)
	}
}

func TestForbiddenPenalizesPooledCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sid"); err == nil && c.Value == "bad" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	pool := cookies.NewPool([]string{"sid=bad", "sid=good"})
	c := NewHTTPClient(HTTPConfig{Cookies: pool})

	resp, err := c.Send(context.Background(), srv.URL, Options{})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("first pick should be sid=bad, got status %d", resp.StatusCode)
	}
	if pool.Penalty("sid=bad") != 1 {
		t.Errorf("expected sid=bad to be penalized, penalty = %d", pool.Penalty("sid=bad"))
	}

	// explicit cookies bypass the pool
	if _, err := c.GetBytes(context.Background(), srv.URL, Options{Cookies: "sid=bad"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("GetBytes err = %v, want ErrForbidden", err)
	}
	if pool.Penalty("sid=bad") != 1 {
		t.Errorf("explicit cookies should not touch the pool")
	}
}

func TestGetBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/doc":
			io.WriteString(w, "document")
		case "/old":
			http.Redirect(w, r, "/doc", http.StatusMovedPermanently)
		case "/boom":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{})
	ctx := context.Background()

	b, err := c.GetBytes(ctx, srv.URL+"/old", Options{})
	if err != nil || string(b) != "document" {
		t.Errorf("GetBytes(/old) = %q, %v", b, err)
	}
	if _, err := c.GetBytes(ctx, srv.URL+"/nope", Options{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBytes(/nope) err = %v, want ErrNotFound", err)
	}
	if _, err := c.GetBytes(ctx, srv.URL+"/boom", Options{}); err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("GetBytes(/boom) err = %v", err)
	}
}

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("status code %d", int(s)) }
func (s statusErr) HTTPStatus() int { return int(s) }

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want InterruptionType
	}{
		{nil, Ended},
		{context.Canceled, Fatal},
		{fmt.Errorf("resolve: %w", ErrNotFound), Ended},
		{fmt.Errorf("resolve: %w", ErrForbidden), Blocked},
		{fmt.Errorf("fetch: %w", statusErr(403)), Blocked},
		{statusErr(410), Ended},
		{statusErr(503), TransientError},
		{statusErr(400), Fatal},
		{ErrBadID, Fatal},
		{&format.SelectionError{Kind: format.NoFormats}, Fatal},
		{errors.New("connection reset"), TransientError},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

type fakeDriver struct{ name string }

func (f fakeDriver) Name() string { return f.name }
func (f fakeDriver) Resolve(context.Context, string, Options) (*format.Metadata, error) {
	return &format.Metadata{ID: f.name}, nil
}

func TestRegistry(t *testing.T) {
	Register(fakeDriver{name: "zz-test"})
	d, err := Get("zz-test")
	if err != nil {
		t.Fatal(err)
	}
	if d.Name() != "zz-test" {
		t.Errorf("Name = %q", d.Name())
	}
	if _, err := Get("nope"); err == nil || !strings.Contains(err.Error(), "zz-test") {
		t.Errorf("Get(nope) err = %v, want list of available drivers", err)
	}
}

func TestParseCookies(t *testing.T) {
	got := ParseCookies("a=1; b = 2 ;junk; =x")
	if len(got) != 2 || got[0].Name != "a" || got[1].Value != "2" {
		t.Errorf("ParseCookies = %v", got)
	}
}

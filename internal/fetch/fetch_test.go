package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGet_Success(t *testing.T) {
	// WHAT: Basic GET returns body and status.
	// WHY: Both the list source and the detail lookup sit on top of this.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "aibadge-test" {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Write([]byte(`[1,2,3]`))
	}))
	defer srv.Close()

	c := New(Config{UserAgent: "aibadge-test", URLValidator: AllowAll})
	res, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !res.OK() {
		t.Errorf("status: got %d", res.StatusCode)
	}
	if string(res.Body) != `[1,2,3]` {
		t.Errorf("body: got %q", res.Body)
	}
}

func TestGet_NonOKIsNotAnError(t *testing.T) {
	// WHAT: A 404 comes back as a Result, not an error.
	// WHY: A missing detail page is a not-confirmed outcome, not a lookup failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(Config{URLValidator: AllowAll})
	res, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.OK() || res.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", res.StatusCode)
	}
}

func TestGet_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte("late"))
	}))
	defer srv.Close()

	c := New(Config{Timeout: 50 * time.Millisecond, URLValidator: AllowAll})
	if _, err := c.Get(context.Background(), srv.URL); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestGet_MaxBody(t *testing.T) {
	// WHAT: A body over MaxBytes is cut, flagged and logged at debug.
	// WHY: A truncated detail page may lose its disclosure section.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := New(Config{MaxBytes: 100, URLValidator: AllowAll, Logger: logger})
	res, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(res.Body) != 100 {
		t.Errorf("body: got %d bytes, want 100", len(res.Body))
	}
	if !res.Truncated {
		t.Error("Truncated = false")
	}
	if !strings.Contains(logs.String(), "fetch: body truncated") {
		t.Errorf("logs = %q", logs.String())
	}

	full := New(Config{MaxBytes: 2000, URLValidator: AllowAll, Logger: logger})
	res, err = full.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if res.Truncated || len(res.Body) != 1000 {
		t.Errorf("full body: truncated=%v len=%d", res.Truncated, len(res.Body))
	}
}

func TestGet_BlockedURL(t *testing.T) {
	c := New(Config{})
	_, err := c.Get(context.Background(), "http://192.168.1.1/appids.json")
	if err == nil {
		t.Fatal("expected error for private IP URL")
	}
	if !errors.Is(err, ErrSSRF) {
		t.Errorf("expected ErrSSRF, got: %v", err)
	}
}

func TestGet_RedirectToPrivate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://10.255.255.1/admin", http.StatusFound)
	}))
	defer srv.Close()

	first := true
	allowFirst := func(u string) error {
		if first {
			first = false
			return nil
		}
		return fmt.Errorf("private IP blocked")
	}

	c := New(Config{URLValidator: allowFirst})
	_, err := c.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for redirect to private IP")
	}
	if !strings.Contains(err.Error(), "SSRF") {
		t.Errorf("expected SSRF in error, got: %v", err)
	}
}

func TestValidateURL(t *testing.T) {
	cases := []struct {
		url  string
		want error
	}{
		{"ftp://example.com/x", ErrUnsafeScheme},
		{"http://127.0.0.1/", ErrSSRF},
		{"http://[::1]/", ErrSSRF},
		{"http://169.254.169.254/latest/", ErrSSRF},
		{"https://93.184.216.34/", nil},
	}
	for _, c := range cases {
		err := ValidateURL(c.url)
		if !errors.Is(err, c.want) {
			t.Errorf("ValidateURL(%q) = %v, want %v", c.url, err, c.want)
		}
	}
}

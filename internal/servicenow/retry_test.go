package servicenow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// newTestClient opens a client against the test server with a
// millisecond backoff so retry schedules stay fast.
func newTestClient(t *testing.T, serverURL string, maxRetries int) *Client {
	t.Helper()
	c, err := NewClient(Config{
		InstanceURL: serverURL,
		Username:    "api.user",
		Password:    "secret",
		MaxRetries:  maxRetries,
		BackoffBase: time.Millisecond,
		Timeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Open(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDo_FatalStatusesSingleAttempt(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind Kind
		wantMsg  string
	}{
		{"unauthorized", 401, KindAuth, "Authentication failed (401)"},
		{"forbidden", 403, KindAuth, "Authentication failed (403)"},
		{"not found", 404, KindNotFound, "Resource not found (404)"},
		{"bad request", 400, KindAPI, "ServiceNow API error (400)"},
		{"unprocessable", 422, KindAPI, "ServiceNow API error (422)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, 3)
			_, err := c.RequestJSON(context.Background(), "GET", "/api/now/table/incident/abc", nil, nil)

			se, ok := AsError(err)
			if !ok {
				t.Fatalf("expected *Error, got %v", err)
			}
			if se.Kind != tt.wantKind {
				t.Errorf("kind = %v, want %v", se.Kind, tt.wantKind)
			}
			if se.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", se.Message, tt.wantMsg)
			}
			if se.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", se.StatusCode, tt.status)
			}
			if got := calls.Load(); got != 1 {
				t.Errorf("server saw %d attempts, want 1 (fatal errors must not retry)", got)
			}
		})
	}
}

func TestDo_RetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":"bad gateway"}`))
			return
		}
		w.Write([]byte(`{"result":{"sys_id":"abc"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	doc, err := c.RequestJSON(context.Background(), "GET", "/api/now/table/incident/abc", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d attempts, want 3", got)
	}
	result := doc["result"].(map[string]any)
	if result["sys_id"] != "abc" {
		t.Errorf("result = %v", doc)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	_, err := c.RequestJSON(context.Background(), "GET", "/api/now/table/incident", nil, nil)

	se, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %v", err)
	}
	if se.Kind != KindAPI {
		t.Errorf("kind = %v, want %v", se.Kind, KindAPI)
	}
	if se.StatusCode != 500 {
		t.Errorf("status = %d, want 500", se.StatusCode)
	}
	// maxRetries=2 means 3 attempts total.
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d attempts, want 3", got)
	}
}

func TestDo_ZeroRetriesSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	_, err := c.RequestJSON(context.Background(), "GET", "/api/now/table/incident", nil, nil)
	if _, ok := AsError(err); !ok {
		t.Fatalf("expected *Error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d attempts, want 1", got)
	}
}

func TestDo_RateLimitedRespectsRetryAfter(t *testing.T) {
	var mu sync.Mutex
	var calls int
	var gap time.Duration
	var lastAttempt time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		now := time.Now()
		if n == 2 {
			gap = now.Sub(lastAttempt)
		}
		lastAttempt = now
		mu.Unlock()
		if n == 1 {
			w.Header().Set("Retry-After", "0.05")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"result":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	_, err := c.RequestJSON(context.Background(), "GET", "/api/now/table/incident", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("server saw %d attempts, want 2", calls)
	}
	// Retry-After of 0.05s must override the 1ms backoff base.
	if gap < 50*time.Millisecond {
		t.Errorf("gap between attempts = %v, want >= 50ms from Retry-After", gap)
	}
}

func TestDo_RateLimitedExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`rate limited`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 1)
	_, err := c.RequestJSON(context.Background(), "GET", "/api/now/table/incident", nil, nil)

	se, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %v", err)
	}
	if se.Kind != KindRateLimited {
		t.Errorf("kind = %v, want %v", se.Kind, KindRateLimited)
	}
	if se.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive hint", se.RetryAfter)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d attempts, want 2", got)
	}
}

func TestDo_NonNumericRetryAfterIgnored(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "Wed, 21 Oct 2026 07:28:00 GMT")
	if got := parseRetryAfter(header); got != 0 {
		t.Errorf("parseRetryAfter(HTTP date) = %v, want 0", got)
	}

	header.Set("Retry-After", "2.5")
	if got := parseRetryAfter(header); got != 2.5 {
		t.Errorf("parseRetryAfter(2.5) = %v", got)
	}

	header.Del("Retry-After")
	if got := parseRetryAfter(header); got != 0 {
		t.Errorf("parseRetryAfter(absent) = %v, want 0", got)
	}
}

func TestBackoff_Deterministic(t *testing.T) {
	c, err := NewClient(Config{
		InstanceURL: "https://dev.service-now.com",
		Username:    "u",
		Password:    "p",
		BackoffBase: time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for attempt, expected := range want {
		if got := c.backoff(attempt); got != expected {
			t.Errorf("backoff(%d) = %v, want %v", attempt, got, expected)
		}
	}
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(Config{
		InstanceURL: srv.URL,
		Username:    "u",
		Password:    "p",
		MaxRetries:  3,
		BackoffBase: 10 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Open(); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = c.RequestJSON(ctx, "GET", "/api/now/table/incident", nil, nil)
	elapsed := time.Since(start)

	se, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %v", err)
	}
	if se.Kind != KindTimeout {
		t.Errorf("kind = %v, want %v", se.Kind, KindTimeout)
	}
	if elapsed > 5*time.Second {
		t.Errorf("cancellation took %v, backoff sleep did not yield to context", elapsed)
	}
}

func TestDo_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens any more

	c := newTestClient(t, srv.URL, 1)
	_, err := c.RequestJSON(context.Background(), "GET", "/api/now/table/incident", nil, nil)

	se, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %v", err)
	}
	if se.Kind != KindConnection {
		t.Errorf("kind = %v, want %v", se.Kind, KindConnection)
	}
}

func TestDo_SendsBasicAuthAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "api.user" || pass != "secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		w.Write([]byte(`{"result":{}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	_, err := c.RequestJSON(context.Background(), "POST", "/api/now/table/incident",
		map[string]any{"short_description": "x"}, nil)
	if err != nil {
		t.Fatal(err)
	}
}

func TestDo_RawUploadHeaders(t *testing.T) {
	payload := []byte{0x50, 0x4b, 0x03, 0x04}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Content-Type"); got != "application/octet-stream" {
			t.Errorf("Content-Type = %q", got)
		}
		if got := r.URL.Query().Get("file_name"); got != "x.zip" {
			t.Errorf("file_name = %q", got)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"result":{"sys_id":"att1"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	q := url.Values{"file_name": {"x.zip"}}
	doc, err := c.RequestRaw(context.Background(), "POST", AttachmentAPI, payload, q,
		map[string]string{"Content-Type": "application/octet-stream"})
	if err != nil {
		t.Fatal(err)
	}
	if doc["result"].(map[string]any)["sys_id"] != "att1" {
		t.Errorf("result = %v", doc)
	}
}

// Retry state is per logical request: concurrent calls against a
// flaky backend each run their own schedule and all succeed.
func TestDo_ConcurrentRequestsIndependentRetries(t *testing.T) {
	var mu sync.Mutex
	failures := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		mu.Lock()
		failures[key]++
		n := failures[key]
		mu.Unlock()
		if n <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"result":{"path":"` + key + `"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := "/api/now/table/incident/" + string(rune('a'+i))
			_, errs[i] = c.RequestJSON(context.Background(), "GET", path, nil, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("worker %d: %v", i, err)
		}
	}
}

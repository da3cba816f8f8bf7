package servicenow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVICENOW_INSTANCE", "SERVICENOW_USERNAME", "SERVICENOW_PASSWORD",
		"SERVICENOW_AUTH", "SERVICENOW_CONFIG_FILE",
	} {
		t.Setenv(key, "")
	}
}

func TestAcquire_BorrowsPublishedClient(t *testing.T) {
	clearCredentialEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"ok":true}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	Publish(c)
	t.Cleanup(func() { Publish(nil) })

	lease, err := Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if lease.Client() != c {
		t.Error("lease should wrap the published client")
	}
	if err := lease.Release(); err != nil {
		t.Fatal(err)
	}

	// Borrowed release must not close the shared client.
	if _, err := c.RequestJSON(context.Background(), "GET", "/api/now/table/incident", nil, nil); err != nil {
		t.Errorf("published client unusable after lease release: %v", err)
	}
}

func TestAcquire_FallbackFromEnvironment(t *testing.T) {
	clearCredentialEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"ok":true}}`))
	}))
	defer srv.Close()

	Publish(nil)
	t.Setenv("SERVICENOW_INSTANCE", srv.URL)
	t.Setenv("SERVICENOW_USERNAME", "api.user")
	t.Setenv("SERVICENOW_PASSWORD", "secret")

	lease, err := Acquire()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := lease.Client().RequestJSON(context.Background(), "GET", "/api/now/table/incident", nil, nil); err != nil {
		t.Fatal(err)
	}

	// Owned release closes the fallback client.
	if err := lease.Release(); err != nil {
		t.Fatal(err)
	}
	_, err = lease.Client().RequestJSON(context.Background(), "GET", "/api/now/table/incident", nil, nil)
	se, ok := AsError(err)
	if !ok || se.Kind != KindValidation {
		t.Errorf("fallback client should be closed after release, got %v", err)
	}
}

func TestAcquire_NotConfigured(t *testing.T) {
	clearCredentialEnv(t)
	Publish(nil)

	_, err := Acquire()
	se, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %v", err)
	}
	if se.Kind != KindValidation {
		t.Errorf("kind = %v, want %v", se.Kind, KindValidation)
	}
	for _, name := range []string{"SERVICENOW_INSTANCE", "SERVICENOW_USERNAME", "SERVICENOW_PASSWORD"} {
		if !strings.Contains(se.Message, name) {
			t.Errorf("message should name %s: %q", name, se.Message)
		}
	}
}

func TestPublish_SwapAndClear(t *testing.T) {
	clearCredentialEnv(t)

	c, err := NewClient(Config{
		InstanceURL: "https://dev.service-now.com",
		Username:    "u",
		Password:    "p",
		BackoffBase: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	Publish(c)
	t.Cleanup(func() { Publish(nil) })

	lease, err := Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if lease.Client() != c {
		t.Error("Acquire should see the published client")
	}
	lease.Release()

	Publish(nil)
	if _, err := Acquire(); err == nil {
		t.Error("Acquire after clearing should fall back (and fail without credentials)")
	}
}

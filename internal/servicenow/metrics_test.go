package servicenow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func validationFailures() float64 {
	return testutil.ToFloat64(failuresTotal.WithLabelValues(string(KindValidation)))
}

func TestFailuresCounter_CountsValidationErrors(t *testing.T) {
	before := validationFailures()

	client, err := NewClient(testConfig("https://example.service-now.com"))
	if err != nil {
		t.Fatal(err)
	}

	// Request before Open is rejected locally, without any attempt.
	if _, err := client.RequestJSON(context.Background(), "GET", TableAPI+"/incident", nil, nil); err == nil {
		t.Fatal("request before Open should fail")
	}

	if err := client.Open(); err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	// So is an empty method.
	if _, err := client.RequestJSON(context.Background(), "", TableAPI+"/incident", nil, nil); err == nil {
		t.Fatal("empty method should fail")
	}

	if got := validationFailures() - before; got != 2 {
		t.Errorf("validation failures counted = %v, want 2", got)
	}
}

func TestFailuresCounter_CountsFatalStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	before := testutil.ToFloat64(failuresTotal.WithLabelValues(string(KindNotFound)))

	client := newTestClient(t, srv.URL, 0)
	if _, err := client.RequestJSON(context.Background(), "GET", TableAPI+"/incident/missing", nil, nil); err == nil {
		t.Fatal("404 should fail")
	}

	after := testutil.ToFloat64(failuresTotal.WithLabelValues(string(KindNotFound)))
	if got := after - before; got != 1 {
		t.Errorf("not-found failures counted = %v, want 1", got)
	}
}

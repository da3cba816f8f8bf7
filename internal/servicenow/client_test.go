package servicenow

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

func testConfig(instanceURL string) Config {
	return Config{
		InstanceURL: instanceURL,
		Username:    "api.user",
		Password:    "secret",
		BackoffBase: time.Millisecond,
	}
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "valid basic auth",
			config:  testConfig("https://dev.service-now.com"),
			wantErr: false,
		},
		{
			name: "valid oauth",
			config: Config{
				InstanceURL:  "https://dev.service-now.com",
				Auth:         AuthOAuth,
				ClientID:     "id",
				ClientSecret: "secret",
			},
			wantErr: false,
		},
		{
			name:    "missing instance URL",
			config:  Config{Username: "u", Password: "p"},
			wantErr: true,
		},
		{
			name:    "scheme-less URL",
			config:  testConfig("dev.service-now.com"),
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			config:  testConfig("ftp://dev.service-now.com"),
			wantErr: true,
		},
		{
			name: "basic auth without password",
			config: Config{
				InstanceURL: "https://dev.service-now.com",
				Username:    "api.user",
			},
			wantErr: true,
		},
		{
			name: "oauth without client secret",
			config: Config{
				InstanceURL: "https://dev.service-now.com",
				Auth:        AuthOAuth,
				ClientID:    "id",
			},
			wantErr: true,
		},
		{
			name: "unknown auth mode",
			config: Config{
				InstanceURL: "https://dev.service-now.com",
				Auth:        AuthMode("kerberos"),
			},
			wantErr: true,
		},
		{
			name: "negative max retries",
			config: Config{
				InstanceURL: "https://dev.service-now.com",
				Username:    "u",
				Password:    "p",
				MaxRetries:  -1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				se, ok := AsError(err)
				if !ok {
					t.Fatalf("expected *Error, got %T", err)
				}
				if se.Kind != KindValidation {
					t.Errorf("error kind = %v, want %v", se.Kind, KindValidation)
				}
				return
			}
			if c == nil {
				t.Fatal("NewClient returned nil client without error")
			}
		})
	}
}

func TestNewClient_NormalizesBaseURL(t *testing.T) {
	c, err := NewClient(testConfig("https://dev.service-now.com"))
	if err != nil {
		t.Fatal(err)
	}
	if got := c.BaseURL(); got != "https://dev.service-now.com/" {
		t.Errorf("BaseURL() = %q, want trailing slash", got)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(Config{
		InstanceURL: "https://dev.service-now.com",
		Username:    "u",
		Password:    "p",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", c.timeout, DefaultTimeout)
	}
	if c.maxRetries != 0 {
		t.Errorf("maxRetries = %d, want 0 (zero value preserved)", c.maxRetries)
	}
	if c.backoffBase != DefaultBackoffBase {
		t.Errorf("backoffBase = %v, want %v", c.backoffBase, DefaultBackoffBase)
	}
	if c.tokenURL != "https://dev.service-now.com/oauth_token.do" {
		t.Errorf("tokenURL = %q", c.tokenURL)
	}
}

func TestClient_OpenTwice(t *testing.T) {
	c, err := NewClient(testConfig("https://dev.service-now.com"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Open(); err != nil {
		t.Fatalf("first Open() = %v", err)
	}
	defer c.Close()

	err = c.Open()
	if err == nil {
		t.Fatal("second Open() should fail")
	}
	se, ok := AsError(err)
	if !ok || se.Kind != KindValidation {
		t.Errorf("second Open() error = %v, want validation error", err)
	}
}

func TestClient_RequestBeforeOpen(t *testing.T) {
	c, err := NewClient(testConfig("https://dev.service-now.com"))
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.RequestJSON(context.Background(), "GET", "/api/now/table/incident", nil, nil)
	se, ok := AsError(err)
	if !ok || se.Kind != KindValidation {
		t.Fatalf("request before Open: error = %v, want validation error", err)
	}
	if !strings.Contains(se.Message, "not open") {
		t.Errorf("message = %q, want mention of unopened client", se.Message)
	}
}

func TestClient_RequestAfterClose(t *testing.T) {
	c, err := NewClient(testConfig("https://dev.service-now.com"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Open(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	_, err = c.RequestJSON(context.Background(), "GET", "/api/now/table/incident", nil, nil)
	se, ok := AsError(err)
	if !ok || se.Kind != KindValidation {
		t.Fatalf("request after Close: error = %v, want validation error", err)
	}
}

func TestClient_CloseWithoutOpen(t *testing.T) {
	c, err := NewClient(testConfig("https://dev.service-now.com"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on never-opened client = %v, want nil", err)
	}
}

func TestRequestURL(t *testing.T) {
	c, err := NewClient(testConfig("https://dev.service-now.com"))
	if err != nil {
		t.Fatal(err)
	}

	q := url.Values{}
	q.Set("sysparm_limit", "5")

	tests := []struct {
		name  string
		path  string
		query url.Values
		want  string
	}{
		{
			name: "leading slash trimmed",
			path: "/api/now/table/incident",
			want: "https://dev.service-now.com/api/now/table/incident",
		},
		{
			name: "no leading slash",
			path: "api/now/table/incident",
			want: "https://dev.service-now.com/api/now/table/incident",
		},
		{
			name:  "with query",
			path:  "/api/now/table/incident",
			query: q,
			want:  "https://dev.service-now.com/api/now/table/incident?sysparm_limit=5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.requestURL(tt.path, tt.query); got != tt.want {
				t.Errorf("requestURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeResponse_NoContent(t *testing.T) {
	doc, err := decodeResponse(&response{status: http.StatusNoContent})
	if err != nil {
		t.Fatal(err)
	}
	result, ok := doc["result"].(map[string]any)
	if !ok {
		t.Fatalf("204 payload missing result object: %v", doc)
	}
	if result["status"] != "success" {
		t.Errorf("status = %v, want success", result["status"])
	}
	if result["message"] != "Operation completed successfully with no content returned." {
		t.Errorf("message = %v", result["message"])
	}
}

func TestDecodeResponse_InvalidJSON(t *testing.T) {
	body := []byte("<html>gateway error</html>")
	_, err := decodeResponse(&response{status: 200, body: body})
	se, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if se.Kind != KindAPI {
		t.Errorf("kind = %v, want %v", se.Kind, KindAPI)
	}
	if se.StatusCode != 200 {
		t.Errorf("status code = %d, want 200", se.StatusCode)
	}
	if se.Details != string(body) {
		t.Errorf("details = %q, want raw body", se.Details)
	}
}

func TestDecodeResponse_TruncatesLongBody(t *testing.T) {
	body := []byte("x" + strings.Repeat("y", 2*maxBodyInError))
	_, err := decodeResponse(&response{status: 502, body: body})
	se, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if len(se.Details) != maxBodyInError {
		t.Errorf("details length = %d, want %d", len(se.Details), maxBodyInError)
	}
}

package servicenow

import (
	"sync/atomic"

	"github.com/tombee/servicenow-mcp/internal/config"
)

// shared holds the one published client for the process. Written twice
// per lifetime (publish at startup, clear at shutdown) and read by every
// concurrent tool call; the pointer is swapped wholesale so readers
// never observe a half-initialized client.
var shared atomic.Pointer[Client]

// Publish stores (or, with nil, clears) the process-wide shared client.
// The caller retains ownership: Publish never opens or closes anything.
func Publish(c *Client) {
	shared.Store(c)
}

// Lease is a scoped acquisition of a client. Borrowed leases wrap the
// published client and their Release is a no-op; fallback leases own a
// private client and Release closes it. Either way callers get
// guaranteed-cleanup semantics:
//
//	lease, err := servicenow.Acquire()
//	if err != nil { ... }
//	defer lease.Release()
//	lease.Client().RequestJSON(...)
type Lease struct {
	client *Client
	owned  bool
}

// Client returns the leased client.
func (l *Lease) Client() *Client {
	return l.client
}

// Release closes the client only when this lease owns it. Borrowed
// clients stay open for the rest of the process.
func (l *Lease) Release() error {
	if !l.owned {
		return nil
	}
	return l.client.Close()
}

// Acquire returns a lease over the published client, or falls back to
// constructing and opening a private client from the environment when
// nothing has been published (isolated tests, scripts, startup races).
func Acquire() (*Lease, error) {
	if c := shared.Load(); c != nil {
		return &Lease{client: c}, nil
	}

	settings, err := config.Load()
	if err != nil {
		return nil, &Error{
			Kind: KindValidation,
			Message: "ServiceNow credentials not configured. Set SERVICENOW_INSTANCE, " +
				"SERVICENOW_USERNAME, and SERVICENOW_PASSWORD environment variables " +
				"in your MCP server config.",
			Details: err.Error(),
			Cause:   err,
		}
	}

	client, err := NewClient(ClientConfig(settings))
	if err != nil {
		return nil, err
	}
	if err := client.Open(); err != nil {
		return nil, err
	}
	return &Lease{client: client, owned: true}, nil
}

// ClientConfig maps loaded settings onto a client configuration.
func ClientConfig(s *config.Settings) Config {
	return Config{
		InstanceURL:  s.Instance,
		Username:     s.Username,
		Password:     s.Password,
		Auth:         AuthMode(s.Auth),
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		TokenURL:     s.TokenURL,
		VerifySSL:    s.VerifySSL,
		Timeout:      s.Timeout,
		MaxRetries:   s.MaxRetries,
		BackoffBase:  s.BackoffBase,
	}
}

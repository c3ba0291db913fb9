// Package httpx provides the pooled HTTP client shared by every
// component that talks to meta-servers and config-servers.
//
// The transport itself (timeouts, TLS, connection pooling) is an
// external collaborator per the client's scope; this package only
// supplies the sane default every caller should share rather than
// re-deriving it.
package httpx

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// NewClient returns a pooled HTTP client with the given per-request
// timeout. Callers needing a longer-lived request (the notification
// long-poll) should clone the client's Transport rather than set
// Timeout to zero globally.
func NewClient(timeout time.Duration) *http.Client {
	c := cleanhttp.DefaultPooledClient()
	c.Timeout = timeout
	return c
}

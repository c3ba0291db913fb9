// Package fetcher performs single-namespace conditional HTTP fetches
// against the current config-server list, retrying over peers.
package fetcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"context"

	"github.com/apollo-client-go/apollo-client-go/internal/cache"
	"github.com/apollo-client-go/apollo-client-go/internal/signer"
	"github.com/lalamove/nui/nlogger"
)

// Sentinel errors surfaced to the Client Facade, per the error design.
var (
	// ErrTransportFailure means every server in the list failed the
	// request with a retry-eligible error.
	ErrTransportFailure = errors.New("fetcher: all config servers failed")
	// ErrDecodeFailure means a 200 response body failed to parse.
	ErrDecodeFailure = errors.New("fetcher: response body decode failed")
)

// HTTPStatusError records a server answering with a status other than
// 200 or 304. Such a status is retry-eligible; if it is the last error
// after every server was tried, Fetch returns it wrapped together with
// ErrTransportFailure.
type HTTPStatusError struct {
	Server     string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetcher: %s returned status %d", e.Server, e.StatusCode)
}

// Outcome classifies the result of a Fetch call.
type Outcome int

const (
	// Skipped means force was false and the namespace was already cached.
	Skipped Outcome = iota
	// Unchanged means a server reported 304: the release didn't change.
	Unchanged
	// Fetched means a new namespace snapshot was retrieved.
	Fetched
)

// Fetcher performs conditional config fetches signed on behalf of appID/cluster.
type Fetcher struct {
	appID   string
	cluster string
	secret  string
	client  *http.Client
	log     nlogger.Provider
}

// New creates a Fetcher.
func New(appID, cluster, secret string, client *http.Client, log nlogger.Provider) *Fetcher {
	return &Fetcher{appID: appID, cluster: cluster, secret: secret, client: client, log: log}
}

// Fetch retrieves namespace ns against servers, in list order, trying
// the next server on any retry-eligible failure. If !force and c
// already contains ns, it returns Skipped immediately without any
// network call. releaseKey, when non-empty, is sent for conditional
// fetch; servers answering 304 produce Unchanged.
func (f *Fetcher) Fetch(ctx context.Context, servers []string, c *cache.Cache, ns, releaseKey string, force bool) (Outcome, cache.Entry, error) {
	if !force && c.Has(ns) {
		return Skipped, cache.Entry{}, nil
	}

	path := fmt.Sprintf("/configs/%s/%s/%s", f.appID, f.cluster, ns)
	if releaseKey != "" {
		path += "?releaseKey=" + url.QueryEscape(releaseKey)
	}

	var lastErr error
	for _, server := range servers {
		entry, unchanged, err := f.fetchOne(ctx, server, path, ns)
		if err != nil {
			if errors.Is(err, errDecodeFatal) {
				return Fetched, cache.Entry{}, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
			}
			lastErr = err
			f.log.Get().Warn(fmt.Sprintf("fetch %s from %s failed: %v", ns, server, err))
			continue
		}
		if unchanged {
			return Unchanged, cache.Entry{}, nil
		}
		return Fetched, entry, nil
	}

	if lastErr == nil {
		// No servers configured at all.
		return Fetched, cache.Entry{}, ErrTransportFailure
	}
	return Fetched, cache.Entry{}, fmt.Errorf("%w: %w", ErrTransportFailure, lastErr)
}

var errDecodeFatal = errors.New("fetcher: fatal decode error")

func (f *Fetcher) fetchOne(ctx context.Context, server, path, ns string) (entry cache.Entry, unchanged bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+path, nil)
	if err != nil {
		return cache.Entry{}, false, err
	}

	hd := signer.Sign(f.secret, f.appID, path)
	if !hd.Empty() {
		req.Header.Set("Timestamp", hd.Timestamp)
		req.Header.Set("Authorization", hd.Authorization)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return cache.Entry{}, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return cache.Entry{}, true, nil
	case http.StatusOK:
		var payload struct {
			AppID          string            `json:"appId"`
			Cluster        string            `json:"cluster"`
			Namespace      string            `json:"namespaceName"`
			ReleaseKey     string            `json:"releaseKey"`
			Configurations map[string]string `json:"configurations"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return cache.Entry{}, false, fmt.Errorf("%w: %v", errDecodeFatal, err)
		}
		return cache.Entry{
			AppID:      payload.AppID,
			Cluster:    payload.Cluster,
			Name:       payload.Namespace,
			ReleaseKey: payload.ReleaseKey,
			Items:      payload.Configurations,
		}, false, nil
	default:
		return cache.Entry{}, false, &HTTPStatusError{Server: server, StatusCode: resp.StatusCode}
	}
}

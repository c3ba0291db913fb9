// Package notify implements the long-poll notification state machine:
// it posts the observed namespaces' notification ids to a config
// server, and on a change reply, drives refetch, diff, and broadcast.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/apollo-client-go/apollo-client-go/internal/cache"
	"github.com/apollo-client-go/apollo-client-go/internal/differ"
	"github.com/apollo-client-go/apollo-client-go/internal/fetcher"
	"github.com/apollo-client-go/apollo-client-go/internal/signer"
	"github.com/lalamove/nui/nlogger"
)

// minBodyLen is the shortest a well-formed notification reply body can
// be; anything shorter is treated as "no change" per the wire contract.
const minBodyLen = 10

const (
	idleWait  = 3 * time.Second
	errorWait = 1 * time.Second
)

// ServerLister returns the current, caller-owned config-server list.
// Implementations must be safe for concurrent use.
type ServerLister interface {
	Servers() []string
}

// Loop drives one notification round at a time against a cache,
// broadcasting per-namespace change batches as they're applied.
type Loop struct {
	appID   string
	cluster string
	secret  string
	client  *http.Client
	fetcher *fetcher.Fetcher
	cache   *cache.Cache
	servers ServerLister
	log     nlogger.Provider
	sink    func([]differ.ChangeEvent)

	idleWait  time.Duration
	errorWait time.Duration
}

// New creates a notification Loop with the spec-mandated 3s idle / 1s
// error backoff.
func New(appID, cluster, secret string, client *http.Client, f *fetcher.Fetcher, c *cache.Cache, servers ServerLister, log nlogger.Provider, sink func([]differ.ChangeEvent)) *Loop {
	return &Loop{
		appID: appID, cluster: cluster, secret: secret,
		client: client, fetcher: f, cache: c, servers: servers, log: log, sink: sink,
		idleWait: idleWait, errorWait: errorWait,
	}
}

// Run executes the notification loop until stop is closed. stop only
// gates the point between rounds (idle/error backoff and the top of
// the loop): a long-poll already in flight when stop closes is left to
// complete or to be dropped by the client's own request timeout, never
// aborted mid-flight.
func (l *Loop) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		l.runOnce(stop)
	}
}

func (l *Loop) runOnce(stop <-chan struct{}) {
	states := l.cache.Notifications()
	if len(states) == 0 {
		sleep(stop, l.idleWait)
		return
	}

	servers := l.servers.Servers()
	if len(servers) == 0 {
		l.log.Get().Warn("notify: no config server address available, retrying")
		sleep(stop, l.errorWait)
		return
	}

	reply, err := l.poll(servers[0], states)
	if err != nil {
		l.log.Get().Debug(fmt.Sprintf("notify: long-poll against %s: %v", servers[0], err))
		sleep(stop, l.errorWait)
		return
	}
	if reply == nil {
		// No change within the long-poll window: the server contract
		// promises an empty/short body, but we still back off before
		// the next round to avoid hammering a server stuck returning
		// immediately.
		sleep(stop, l.errorWait)
		return
	}

	l.apply(servers, reply)
}

type notificationItem struct {
	Namespace      string `json:"namespaceName"`
	NotificationID int64  `json:"notificationId"`
}

// poll issues the long-poll GET and returns the decoded reply, or nil
// if the server reported no change (empty/short body). The request is
// built against context.Background(): it is bounded only by l.client's
// own Timeout, never by the loop's stop signal, so a round already in
// flight when Close() is called completes or times out on its own
// schedule instead of being pre-empted.
func (l *Loop) poll(server string, states []cache.NotificationState) ([]notificationItem, error) {
	items := make([]notificationItem, len(states))
	for i, s := range states {
		items[i] = notificationItem{Namespace: s.Namespace, NotificationID: s.NotificationID}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/notifications/v2?appId=%s&cluster=%s&notifications=%s",
		url.QueryEscape(l.appID), url.QueryEscape(l.cluster), url.QueryEscape(string(encoded)))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server+path, nil)
	if err != nil {
		return nil, err
	}
	hd := signer.Sign(l.secret, l.appID, path)
	if !hd.Empty() {
		req.Header.Set("Timestamp", hd.Timestamp)
		req.Header.Set("Authorization", hd.Authorization)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if len(body) < minBodyLen {
		return nil, nil
	}

	var reply []notificationItem
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decode notification reply: %w", err)
	}
	return reply, nil
}

// apply enters the Applying state: snapshot release keys, refetch each
// reported namespace, diff, broadcast, and update the cache. Refetches
// run against context.Background(), bounded only by the fetcher's own
// per-call client timeout, for the same reason poll does.
func (l *Loop) apply(servers []string, reply []notificationItem) {
	releaseKeys := l.cache.SnapshotReleaseKeys()

	for _, item := range reply {
		releaseKey, known := releaseKeys[item.Namespace]
		if !known {
			l.log.Get().Debug(fmt.Sprintf("notify: ignoring notification for unobserved namespace %s", item.Namespace))
			continue
		}

		old, _ := l.cache.Get(item.Namespace)

		outcome, entry, err := l.fetcher.Fetch(context.Background(), servers, l.cache, item.Namespace, releaseKey, true)
		if err != nil {
			l.log.Get().Warn(fmt.Sprintf("notify: refetch %s failed: %v", item.Namespace, err))
			continue
		}

		switch outcome {
		case fetcher.Unchanged:
			l.cache.UpdateNotificationID(item.Namespace, item.NotificationID)
		case fetcher.Fetched:
			entry.NotificationID = item.NotificationID
			l.cache.Upsert(entry)
			if events := differ.Diff(item.Namespace, old.Items, entry.Items); len(events) > 0 {
				l.sink(events)
			}
		}
	}
}

// sleep waits out d, or returns early if stop closes first. This is
// the loop's only stop-responsive wait point; it never reaches into an
// in-flight request.
func sleep(stop <-chan struct{}, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
	case <-t.C:
	}
}

// Package apolloclient is a client library for a centralized,
// Apollo-style configuration service. It discovers the live
// config-server fleet through a set of meta-servers, pulls namespaced
// configuration, and keeps a local cache coherent with the server via
// long-poll notifications, presenting a merged, prioritized
// key/value lookup to the host program.
package apolloclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apollo-client-go/apollo-client-go/internal/cache"
	"github.com/apollo-client-go/apollo-client-go/internal/differ"
	"github.com/apollo-client-go/apollo-client-go/internal/fetcher"
	"github.com/apollo-client-go/apollo-client-go/internal/httpx"
	"github.com/apollo-client-go/apollo-client-go/internal/metaserver"
	"github.com/apollo-client-go/apollo-client-go/internal/notify"
	"github.com/apollo-client-go/apollo-client-go/internal/refresh"
	"github.com/lalamove/nui/nlogger"
	"github.com/oklog/run"
)

// Errors surfaced by the Client Facade.
var (
	// ErrDiscoveryEmpty means no config servers could be resolved from
	// the meta-server list at construction time.
	ErrDiscoveryEmpty = errors.New("apolloclient: no config servers resolved")
	// ErrDuplicateNamespace names the case of a concurrent Observe losing
	// a race to cache the same namespace. Observe never returns it: a
	// lost race is treated as success.
	ErrDuplicateNamespace = errors.New("apolloclient: namespace already being observed")
)

// Re-exported so callers can inspect fetch failures without reaching
// into an internal package.
var (
	ErrTransportFailure = fetcher.ErrTransportFailure
	ErrDecodeFailure    = fetcher.ErrDecodeFailure
)

// HTTPStatusError is returned (wrapped) when a config server answers
// with a status this client doesn't treat as success or "unchanged".
type HTTPStatusError = fetcher.HTTPStatusError

// Action identifies the kind of change a ChangeEvent represents.
type Action = differ.Action

// The three possible ChangeEvent actions.
const (
	ActionAdd    = differ.Add
	ActionUpdate = differ.Update
	ActionDelete = differ.Delete
)

// ChangeEvent describes one key's change within one namespace.
type ChangeEvent = differ.ChangeEvent

// Value is a single key/value lookup result.
type Value struct {
	Key       string
	Value     string
	Namespace string
}

const (
	// requestTimeout bounds meta-server and config-server requests,
	// which are expected to answer promptly.
	requestTimeout = 10 * time.Second
	// longPollTimeout bounds the notification long-poll, which the
	// server may legitimately hold open for tens of seconds waiting
	// for a change.
	longPollTimeout = 90 * time.Second
	eventBufferSize = 16
)

// Client is the stateful, long-running config client. Construct one
// with Open; call Close when done with it.
type Client struct {
	appID   string
	cluster string
	secret  string

	cache        *cache.Cache
	fetcher      *fetcher.Fetcher
	resolver     *metaserver.Resolver
	longPollHTTP *http.Client

	servers *serverList

	log nlogger.Provider

	events chan []ChangeEvent

	closeOnce sync.Once
	closeCh   chan struct{}
	done      chan struct{}
}

// serverList is the mutable, concurrency-safe config-server address
// list shared between the facade, the fetcher, and the notification
// loop, replaced wholesale on every successful discovery refresh.
type serverList struct {
	v atomic.Value // []string
}

func newServerList(initial []string) *serverList {
	s := &serverList{}
	s.v.Store(append([]string(nil), initial...))
	return s
}

func (s *serverList) Servers() []string {
	v, _ := s.v.Load().([]string)
	return v
}

func (s *serverList) Set(servers []string) {
	s.v.Store(append([]string(nil), servers...))
}

// Open runs meta-server discovery, seeds any requested namespaces, and
// starts the background supervisor (notification loop, refresh timer,
// shutdown watcher). It fails only if the initial discovery resolves
// no config servers, or if seeding a requested namespace fails.
func Open(metaList []string, appID, cluster string, namespaces []string, secret string) (*Client, error) {
	return open(metaList, appID, cluster, namespaces, secret, nil)
}

// OpenWithLogger is Open with an explicit logger, for hosts that want
// the client's diagnostics folded into their own logging pipeline.
func OpenWithLogger(metaList []string, appID, cluster string, namespaces []string, secret string, log nlogger.Provider) (*Client, error) {
	return open(metaList, appID, cluster, namespaces, secret, log)
}

func open(metaList []string, appID, cluster string, namespaces []string, secret string, log nlogger.Provider) (*Client, error) {
	if log == nil {
		log = nlogger.NewProvider(nlogger.New(os.Stdout, "[apolloclient] "))
	}

	metaList = dedupe(metaList)
	namespaces = dedupe(namespaces)

	httpClient := httpx.NewClient(requestTimeout)
	longPollHTTP := httpx.NewClient(longPollTimeout)
	resolver := metaserver.New(metaList, httpClient, log)

	// ctx bounds only the synchronous discovery-and-seed work done here
	// in Open; it has no bearing on the background supervisor, whose
	// actors use their own stop signal instead (see startSupervisor).
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	servers, err := resolver.Resolve(ctx, metaserver.ConfigServer)
	if err != nil {
		log.Get().Warn("open: initial discovery reported errors: " + err.Error())
	}
	if len(servers) == 0 {
		return nil, ErrDiscoveryEmpty
	}

	c := &Client{
		appID:        appID,
		cluster:      cluster,
		secret:       secret,
		cache:        cache.New(),
		fetcher:      fetcher.New(appID, cluster, secret, httpClient, log),
		resolver:     resolver,
		longPollHTTP: longPollHTTP,
		servers:      newServerList(servers),
		log:          log,
		events:       make(chan []ChangeEvent, eventBufferSize),
		closeCh:      make(chan struct{}),
		done:         make(chan struct{}),
	}

	for _, ns := range namespaces {
		if err := c.seed(ctx, ns); err != nil {
			return nil, fmt.Errorf("apolloclient: seed namespace %q: %w", ns, err)
		}
	}

	c.startSupervisor()
	return c, nil
}

func (c *Client) seed(ctx context.Context, ns string) error {
	outcome, entry, err := c.fetcher.Fetch(ctx, c.servers.Servers(), c.cache, ns, "", false)
	if err != nil {
		return err
	}
	if outcome == fetcher.Skipped {
		return nil
	}
	entry.NotificationID = -1
	c.cache.ObserveIfAbsent(entry)
	return nil
}

// startSupervisor runs the Notification Loop, the Refresh Timer, and a
// shutdown watcher concurrently via run.Group: the first actor to
// return interrupts the rest. Close() only closes stop, which the loop
// and timer check between rounds — it is never wired to a context used
// to build their HTTP requests, so Close() cannot pre-empt a long-poll
// or refresh already in flight; that round is left to complete or to
// be dropped by its own client Timeout.
func (c *Client) startSupervisor() {
	loop := notify.New(c.appID, c.cluster, c.secret, c.longPollHTTP, c.fetcher, c.cache, c.servers, c.log, c.broadcast)
	timer := refresh.New(c.resolver, c.servers.Set, c.log)

	stop := make(chan struct{})
	var stopOnce sync.Once
	closeStop := func(error) { stopOnce.Do(func() { close(stop) }) }

	var g run.Group

	g.Add(func() error {
		return loop.Run(stop)
	}, closeStop)

	g.Add(func() error {
		return timer.Run(stop)
	}, closeStop)

	g.Add(func() error {
		<-c.closeCh
		return nil
	}, closeStop)

	go func() {
		_ = g.Run()
		close(c.done)
	}()
}

// Observe adds a namespace to observation: it fetches the namespace
// once and, on success, appends it to the cache. If the namespace is
// already observed, it returns nil with no effect. Concurrent Observe
// calls for the same new namespace result in at most one cache entry.
func (c *Client) Observe(ctx context.Context, namespace string) error {
	if c.cache.Has(namespace) {
		return nil
	}

	outcome, entry, err := c.fetcher.Fetch(ctx, c.servers.Servers(), c.cache, namespace, "", false)
	if err != nil {
		return err
	}
	if outcome == fetcher.Skipped {
		return nil
	}

	entry.NotificationID = -1
	c.cache.ObserveIfAbsent(entry)
	return nil
}

// Get returns the prioritized lookup for key: the value from the
// most-recently-observed namespace that contains it.
func (c *Client) Get(key string) (Value, bool) {
	r, ok := c.cache.GetByKey(key)
	if !ok {
		return Value{}, false
	}
	return Value{Key: r.Key, Value: r.Value, Namespace: r.Namespace}, true
}

// GetIn returns the value for key scoped to a specific namespace.
func (c *Client) GetIn(namespace, key string) (Value, bool) {
	r, ok := c.cache.GetFromNamespace(key, namespace)
	if !ok {
		return Value{}, false
	}
	return Value{Key: r.Key, Value: r.Value, Namespace: r.Namespace}, true
}

// PollEvent makes a non-blocking attempt to receive the next batch of
// change events. It returns false if none is buffered.
func (c *Client) PollEvent() ([]ChangeEvent, bool) {
	select {
	case batch := <-c.events:
		return batch, true
	default:
		return nil, false
	}
}

// Close signals shutdown to the background supervisor and clears the
// cache. It is idempotent and infallible.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
	c.cache.Clear()
}

// broadcast delivers events to the poll channel without ever blocking
// the notification loop: on overflow, the oldest unread batch is
// dropped to make room.
func (c *Client) broadcast(events []ChangeEvent) {
	for {
		select {
		case c.events <- events:
			return
		default:
			select {
			case <-c.events:
			default:
			}
		}
	}
}

func dedupe(items []string) []string {
	if items == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

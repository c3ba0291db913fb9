// Package metaserver resolves the live config-server (or admin-server)
// fleet by querying a set of well-known meta-server URLs in parallel.
package metaserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lalamove/nui/nlogger"
	"golang.org/x/sync/errgroup"
)

// Role identifies which service-registry application a Resolve call
// is looking for.
type Role int

const (
	// ConfigServer resolves APOLLO-CONFIGSERVICE instances.
	ConfigServer Role = iota
	// PortalServer resolves APOLLO-ADMINSERVICE instances.
	PortalServer
)

func (r Role) registryName() string {
	if r == PortalServer {
		return "APOLLO-ADMINSERVICE"
	}
	return "APOLLO-CONFIGSERVICE"
}

// Resolver queries a fixed set of meta-server base URLs for the live
// instances of a service role.
type Resolver struct {
	metaServers []string
	client      *http.Client
	log         nlogger.Provider
}

// New creates a Resolver over metaServers using client for transport.
func New(metaServers []string, client *http.Client, log nlogger.Provider) *Resolver {
	return &Resolver{metaServers: metaServers, client: client, log: log}
}

// Resolve queries every meta-server concurrently for role's live
// instances, merges and deduplicates the results preserving first-seen
// order across meta-servers, and returns them. An error from one
// meta-server never fails the whole call; only when every meta-server
// fails is an empty slice returned alongside a diagnostic error.
func (r *Resolver) Resolve(ctx context.Context, role Role) ([]string, error) {
	results := make([][]string, len(r.metaServers))
	errs := make([]error, len(r.metaServers))

	g, gctx := errgroup.WithContext(ctx)
	for i, meta := range r.metaServers {
		i, meta := i, meta
		g.Go(func() error {
			addrs, err := r.queryOne(gctx, meta, role)
			results[i] = addrs
			errs[i] = err
			return nil
		})
	}
	// errors are collected per-meta-server above and never make g.Go
	// return an error, so Wait always returns nil.
	_ = g.Wait()

	seen := make(map[string]struct{})
	var merged []string
	var failures int
	for i, addrs := range results {
		if errs[i] != nil {
			failures++
			r.log.Get().Warn(fmt.Sprintf("meta-server %s failed: %v", r.metaServers[i], errs[i]))
			continue
		}
		for _, a := range addrs {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			merged = append(merged, a)
		}
	}

	if failures == len(r.metaServers) && len(r.metaServers) > 0 {
		return nil, fmt.Errorf("metaserver: all %d meta-servers failed", len(r.metaServers))
	}
	return merged, nil
}

func (r *Resolver) queryOne(ctx context.Context, meta string, role Role) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta+"/eureka/apps", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("meta-server returned status %d", resp.StatusCode)
	}

	var reg eurekaResponse
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return nil, fmt.Errorf("decode eureka reply: %w", err)
	}

	kind := role.registryName()
	var addrs []string
	for _, app := range reg.Applications.Application {
		if app.Name != kind {
			continue
		}
		for _, ins := range app.Instance {
			if ins.SecurePort.Enabled == "true" {
				addrs = append(addrs, fmt.Sprintf("https://%s:%d", ins.IPAddr, ins.SecurePort.Port))
			} else {
				addrs = append(addrs, fmt.Sprintf("http://%s:%d", ins.IPAddr, ins.Port.Port))
			}
		}
	}
	return addrs, nil
}

type eurekaResponse struct {
	Applications struct {
		Application []eurekaApplication `json:"application"`
	} `json:"applications"`
}

type eurekaApplication struct {
	Name     string           `json:"name"`
	Instance []eurekaInstance `json:"instance"`
}

type eurekaInstance struct {
	IPAddr     string     `json:"ipAddr"`
	Port       eurekaPort `json:"port"`
	SecurePort eurekaPort `json:"securePort"`
}

type eurekaPort struct {
	Port    int    `json:"$"`
	Enabled string `json:"@enabled"`
}

package registry

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"skaha/pkg/logging"
)

// Source is an IVOA registry listing resource capabilities.
type Source struct {
	Name string
	URL  string
}

// Omission drops one URI as listed by one registry, for servers that are
// published under several registries.
type Omission struct {
	Registry string
	URI      string
}

// SearchConfig controls discovery.
type SearchConfig struct {
	Registries []Source
	// Names maps IVOA identifiers to friendly server names.
	Names    map[string]string
	Omit     []Omission
	Excluded []string
}

// DefaultSearchConfig returns the registries and names of the public
// Science Platform deployments.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Registries: []Source{
			{Name: "SRCnet", URL: "https://spsrc27.iaa.csic.es/reg/resource-caps"},
			{Name: "CADC", URL: "https://ws.cadc-ccda.hia-iha.nrc-cnrc.gc.ca/reg/resource-caps"},
		},
		Names: map[string]string{
			"ivo://canfar.net/src/skaha":             "Canada",
			"ivo://swesrc.chalmers.se/skaha":         "Sweden",
			"ivo://canfar.cam.uksrc.org/skaha":       "UK-CAM",
			"ivo://canfar.ral.uksrc.org/skaha":       "UK-RAL",
			"ivo://src.skach.org/skaha":              "Swiss",
			"ivo://espsrc.iaa.csic.es/skaha":         "Spain",
			"ivo://canfar.itsrc.oact.inaf.it/skaha":  "Italy",
			"ivo://shion-sp.mtk.nao.ac.jp/skaha":     "Japan",
			"ivo://canfar.krsrc.kr/skaha":            "Korea",
			"ivo://canfar.ska.zverse.space/skaha":    "China",
			"ivo://cadc.nrc.ca/skaha":                "CANFAR",
		},
		Omit:     []Omission{{Registry: "CADC", URI: "ivo://canfar.net/src/skaha"}},
		Excluded: []string{"dev", "development", "test", "demo", "stage", "staging"},
	}
}

// SourceResult records how fetching one registry went.
type SourceResult struct {
	Source  Source
	Elapsed time.Duration
	Err     error
}

// Results is the outcome of a discovery run.
type Results struct {
	Servers []Server
	Sources []SourceResult
	Elapsed time.Duration
}

// Active returns the servers that answered the liveness probe.
func (r *Results) Active() []Server {
	var out []Server
	for _, s := range r.Servers {
		if s.Alive() {
			out = append(out, s)
		}
	}
	return out
}

// Discoverer queries registries and probes the servers they list.
type Discoverer struct {
	config      SearchConfig
	client      *http.Client
	maxInFlight int
	now         func() time.Time
}

// NewDiscoverer returns a Discoverer. A nil client gets a 2 second timeout,
// short enough that dead servers do not stall the listing.
func NewDiscoverer(config SearchConfig, client *http.Client) *Discoverer {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	return &Discoverer{config: config, client: client, maxInFlight: 32, now: time.Now}
}

// Discover fetches every registry concurrently, extracts the servers they
// list and probes each one. A registry that cannot be fetched is reported in
// Results.Sources; Discover only fails when none could be fetched.
func (d *Discoverer) Discover(ctx context.Context, dev bool) (*Results, error) {
	start := d.now()
	results := &Results{Sources: make([]SourceResult, len(d.config.Registries))}
	contents := make([]string, len(d.config.Registries))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range d.config.Registries {
		g.Go(func() error {
			t0 := time.Now()
			body, err := d.fetch(gctx, src.URL)
			results.Sources[i] = SourceResult{Source: src, Elapsed: time.Since(t0), Err: err}
			if err != nil {
				logging.Warn("Discovery", "Failed to fetch registry %s: %v", src.Name, err)
				return nil
			}
			contents[i] = body
			return nil
		})
	}
	_ = g.Wait()

	fetched := 0
	var servers []Server
	for i, src := range d.config.Registries {
		if results.Sources[i].Err != nil {
			continue
		}
		fetched++
		servers = append(servers, Extract(src.Name, contents[i], d.config, dev)...)
	}
	if fetched == 0 && len(d.config.Registries) > 0 {
		return results, fmt.Errorf("no registry could be fetched: %w", results.Sources[0].Err)
	}

	d.probe(ctx, servers)
	results.Servers = servers
	results.Elapsed = d.now().Sub(start)

	logging.Debug("Discovery", "Discovered %d servers (%d active) in %s", len(servers), len(results.Active()), results.Elapsed)
	return results, nil
}

func (d *Discoverer) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("registry returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// probe sends a HEAD request to every server, bounded by maxInFlight.
func (d *Discoverer) probe(ctx context.Context, servers []Server) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxInFlight)

	for i := range servers {
		g.Go(func() error {
			status := 0
			req, err := http.NewRequestWithContext(gctx, http.MethodHead, servers[i].URL, nil)
			if err == nil {
				if resp, err := d.client.Do(req); err == nil {
					status = resp.StatusCode
					resp.Body.Close()
				}
			}
			mu.Lock()
			servers[i].Status = status
			servers[i].LastChecked = d.now()
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// Extract parses "uri = url" lines of a resource-caps listing and returns the
// servers whose capabilities endpoint ends in /skaha/capabilities.
func Extract(registryName, content string, config SearchConfig, dev bool) []Server {
	var servers []Server

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		uri, rawURL, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		uri, rawURL = strings.TrimSpace(uri), strings.TrimSpace(rawURL)
		if !strings.HasSuffix(uri, "/skaha") || !strings.HasSuffix(rawURL, "/skaha/capabilities") {
			continue
		}
		base := strings.TrimSuffix(rawURL, "/capabilities")

		if !dev && excluded(config.Excluded, uri, base) {
			continue
		}
		if slices.Contains(config.Omit, Omission{Registry: registryName, URI: uri}) {
			continue
		}

		name := config.Names[uri]
		if name == "" {
			name = nameFromURI(uri)
		}
		servers = append(servers, Server{
			Name:            name,
			URL:             base,
			URI:             uri,
			Version:         DefaultVersion,
			DiscoverySource: registryName,
		})
	}
	return servers
}

func excluded(words []string, values ...string) bool {
	for _, v := range values {
		lower := strings.ToLower(v)
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
	}
	return false
}

func nameFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return uri
	}
	return u.Host
}

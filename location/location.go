// Package location - Approximate device location from IP geolocation.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Unknown is reported until a lookup succeeds.
const Unknown = "Unknown"

// Lookup resolves the current location string.
type Lookup interface {
	Lookup(ctx context.Context) (string, error)
}

// IPInfo queries an ipinfo.io style JSON endpoint.
type IPInfo struct {
	Endpoint string
	Client   *http.Client
}

// ipInfoResponse is the subset of the ipinfo.io document that is used.
type ipInfoResponse struct {
	Loc     string `json:"loc"`
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
}

// NewIPInfo creates a lookup against endpoint with a per-request timeout.
func NewIPInfo(endpoint string, timeout time.Duration) *IPInfo {
	return &IPInfo{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
	}
}

// Lookup fetches and formats the location as "<lat,lon> (<city>, <region>, <country>)".
//
// Missing fields are reported as Unknown.
func (l *IPInfo) Lookup(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.Endpoint, nil)
	if err != nil {
		return "", errors.Wrap(err, "build location request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.Client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "location request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("location service returned %s", resp.Status)
	}

	var info ipInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", errors.Wrap(err, "decode location response")
	}

	return fmt.Sprintf("%s (%s, %s, %s)",
		orUnknown(info.Loc), orUnknown(info.City), orUnknown(info.Region), orUnknown(info.Country)), nil
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}

// Poller refreshes the location in the background.
//
// Current is safe for concurrent readers. A failed lookup keeps the last
// known value.
type Poller struct {
	lookup   Lookup
	interval time.Duration

	current atomic.Pointer[string]

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewPoller creates a stopped poller reporting Unknown.
func NewPoller(lookup Lookup, interval time.Duration) *Poller {
	p := &Poller{lookup: lookup, interval: interval}
	p.set(Unknown)
	return p
}

// Start polls once immediately and then every interval until Stop or ctx is
// done. Calling Start on a running poller does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.running = true

	go p.loop(ctx, p.done)
}

// Stop ends polling and waits for the background goroutine.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}

// Current returns the last known location.
func (p *Poller) Current() string {
	return *p.current.Load()
}

func (p *Poller) set(v string) {
	p.current.Store(&v)
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	loc, err := p.lookup.Lookup(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("location", p.Current()).Msg("location lookup failed, keeping last value")
		}
		return
	}
	if loc != p.Current() {
		log.Info().Str("location", loc).Msg("location updated")
	}
	p.set(loc)
}

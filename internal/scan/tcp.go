package scan

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mosys-billing/tvfleet/internal/probe"
)

// TCPSweeper probes every candidate with a Prober, a bounded number at a
// time.
type TCPSweeper struct {
	prober      probe.Prober
	concurrency int
}

// NewTCPSweeper creates a TCPSweeper. concurrency <= 0 means 64.
func NewTCPSweeper(prober probe.Prober, concurrency int) *TCPSweeper {
	if concurrency <= 0 {
		concurrency = 64
	}
	return &TCPSweeper{prober: prober, concurrency: concurrency}
}

// Method returns "tcp".
func (t *TCPSweeper) Method() string { return "tcp" }

// Sweep returns the reachable hosts. Probe errors skip the host.
func (t *TCPSweeper) Sweep(ctx context.Context, hosts []string) ([]Device, error) {
	var (
		mu    sync.Mutex
		found []Device
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for _, host := range hosts {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			res, err := t.prober.Probe(gctx, host)
			if err != nil || !res.Reachable {
				return nil
			}
			mu.Lock()
			found = append(found, Device{Address: host, Name: tentativeName(host)})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if found == nil {
		found = []Device{}
	}
	return found, nil
}

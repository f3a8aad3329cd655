// Package probe checks display reachability with TCP connects.
//
// A display is reachable when any of its backend's ports accepts a
// connection. Refused, timed out, unroutable and unresolvable targets are
// all simply unreachable; only a malformed address is an error.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// defaultTimeout bounds one connect attempt.
const defaultTimeout = time.Second

// ErrInvalidAddress is returned for an address that can't be dialled.
var ErrInvalidAddress = errors.New("probe: invalid address")

// Result is the outcome of probing one address.
type Result struct {
	Reachable bool

	// Port is the first port that accepted a connection.
	Port int

	// Elapsed is the connect time on Port. Zero when unreachable.
	Elapsed time.Duration
}

// Prober is the capability the monitor and scanner depend on.
type Prober interface {
	Probe(ctx context.Context, address string) (Result, error)
}

// TCP probes an ordered list of ports, stopping at the first that accepts.
type TCP struct {
	ports   []int
	timeout time.Duration
}

// NewTCP returns a TCP prober. A zero timeout means one second.
func NewTCP(ports []int, timeout time.Duration) *TCP {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &TCP{
		ports:   append([]int(nil), ports...),
		timeout: timeout,
	}
}

// Ports returns the probed ports in order.
func (p *TCP) Ports() []int {
	return append([]int(nil), p.ports...)
}

// Probe dials each port in order with the configured timeout.
func (p *TCP) Probe(ctx context.Context, address string) (Result, error) {
	if err := validate(address); err != nil {
		return Result{}, err
	}

	for _, port := range p.ports {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		target := net.JoinHostPort(address, strconv.Itoa(port))
		dialer := net.Dialer{Timeout: p.timeout}

		start := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err != nil {
			continue
		}
		elapsed := time.Since(start)
		conn.Close() //nolint:errcheck // Probe connection only

		return Result{Reachable: true, Port: port, Elapsed: elapsed}, nil
	}

	return Result{}, nil
}

func validate(address string) error {
	switch {
	case address == "":
		return fmt.Errorf("%w: empty", ErrInvalidAddress)
	case strings.ContainsAny(address, " \t\n/:@"):
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return nil
}

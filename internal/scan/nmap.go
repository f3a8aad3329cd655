package scan

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Ullaakut/nmap/v3"
)

// NmapSweeper delegates discovery to the nmap binary with a TCP connect
// scan of the backend's ports. Reverse-DNS names become tentative names.
type NmapSweeper struct {
	ports  []string
	binary string
	logger Logger
}

// NewNmapSweeper creates an NmapSweeper. An empty binary uses nmap from PATH.
func NewNmapSweeper(ports []int, binary string) *NmapSweeper {
	ps := make([]string, 0, len(ports))
	for _, p := range ports {
		ps = append(ps, strconv.Itoa(p))
	}
	return &NmapSweeper{ports: ps, binary: binary, logger: noopLogger{}}
}

// SetLogger sets the logger for scan warnings.
func (n *NmapSweeper) SetLogger(logger Logger) {
	n.logger = logger
}

// Method returns "nmap".
func (n *NmapSweeper) Method() string { return "nmap" }

// Sweep runs one nmap scan across hosts.
func (n *NmapSweeper) Sweep(ctx context.Context, hosts []string) ([]Device, error) {
	opts := []nmap.Option{
		nmap.WithTargets(hosts...),
		nmap.WithPorts(strings.Join(n.ports, ",")),
		nmap.WithConnectScan(),
		nmap.WithSkipHostDiscovery(),
	}
	if n.binary != "" {
		opts = append(opts, nmap.WithBinaryPath(n.binary))
	}

	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating nmap scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("running nmap: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		n.logger.Warn("nmap warnings", "warnings", *warnings)
	}
	return devicesFromRun(result), nil
}

// devicesFromRun keeps hosts with at least one open port.
func devicesFromRun(result *nmap.Run) []Device {
	found := []Device{}
	if result == nil {
		return found
	}

	for _, host := range result.Hosts {
		ip := ""
		for _, addr := range host.Addresses {
			if addr.AddrType == "ipv4" {
				ip = addr.Addr
				break
			}
		}
		if ip == "" || !hasOpenPort(host.Ports) {
			continue
		}

		name := tentativeName(ip)
		if len(host.Hostnames) > 0 && host.Hostnames[0].Name != "" {
			name = host.Hostnames[0].Name
		}
		found = append(found, Device{Address: ip, Name: name})
	}
	return found
}

func hasOpenPort(ports []nmap.Port) bool {
	for _, p := range ports {
		if p.State.State == "open" {
			return true
		}
	}
	return false
}

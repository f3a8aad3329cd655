package transport

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mosys-billing/tvfleet/internal/process"
)

// cecCommands maps command names to CEC opcode bytes, colon separated.
var cecCommands = commandTable{
	"power_on":    "0x04", // Image View On
	"power_off":   "0x36", // Standby
	"volume_up":   "0x41",
	"volume_down": "0x42",
	"mute":        "0x43",
	"input_hdmi1": "0x67:0x10",
	"input_hdmi2": "0x67:0x20",
	"input_hdmi3": "0x67:0x30",
	"menu":        "0x09",
	"up":          "0x01",
	"down":        "0x02",
	"left":        "0x03",
	"right":       "0x04",
	"select":      "0x00",
	"back":        "0x0D",
	"home":        "0x46",
	"play":        "0x44",
	"pause":       "0x46",
	"stop":        "0x45",
	"forward":     "0x49",
	"rewind":      "0x48",
}

var powerStatusPattern = regexp.MustCompile(`(?i)power status:\s*([a-z ]+)`)

// CECConfig configures the CEC adapter.
type CECConfig struct {
	Binary string

	// Header is the CEC source/destination nibble pair, e.g. "10".
	Header string

	Timeout time.Duration
}

// CEC drives displays through cec-client in single-command mode.
type CEC struct {
	cfg  CECConfig
	exec Executor
}

// NewCEC returns a CEC adapter that runs cec-client through exec.
func NewCEC(cfg CECConfig, exec Executor) *CEC {
	if cfg.Binary == "" {
		cfg.Binary = "cec-client"
	}
	if cfg.Header == "" {
		cfg.Header = "10"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &CEC{cfg: cfg, exec: exec}
}

// Kind returns KindCEC.
func (c *CEC) Kind() Kind { return KindCEC }

// Resolve maps a command name to its opcode bytes.
func (c *CEC) Resolve(command string) (Opcode, error) {
	return cecCommands.resolve(KindCEC, command)
}

// Commands lists the accepted command names.
func (c *CEC) Commands() []string {
	return cecCommands.names()
}

// Send pipes "tx <header>:<bytes>" into "cec-client -s -d 1".
func (c *CEC) Send(ctx context.Context, address string, op Opcode) Outcome {
	return c.run(ctx, "cec-client tx", "tx "+Frame(c.cfg.Header, op))
}

// PowerStatus asks the display for its power state with "pow 0" and
// returns the reported value ("on", "standby", ...).
func (c *CEC) PowerStatus(ctx context.Context, address string) (string, error) {
	res, err := c.exec.Run(ctx, process.Request{
		Name:    "cec-client pow",
		Binary:  c.cfg.Binary,
		Args:    []string{"-s", "-d", "1"},
		Stdin:   "pow 0",
		Timeout: c.cfg.Timeout,
	})
	if err != nil {
		return "", fmt.Errorf("querying power status of %s: %w", address, err)
	}
	return ParsePowerStatus(res.Stdout), nil
}

func (c *CEC) run(ctx context.Context, name, stdin string) Outcome {
	res, err := c.exec.Run(ctx, process.Request{
		Name:    name,
		Binary:  c.cfg.Binary,
		Args:    []string{"-s", "-d", "1"},
		Stdin:   stdin,
		Timeout: c.cfg.Timeout,
	})
	return outcomeFromRun(res, err)
}

// Frame renders an opcode as cec-client hex bytes after header,
// e.g. Frame("10", "0x67:0x10") == "10:67:10".
func Frame(header string, op Opcode) string {
	parts := strings.Split(string(op), ":")
	bytes := make([]string, 0, len(parts)+1)
	bytes = append(bytes, header)
	for _, p := range parts {
		p = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(p)), "0x")
		if len(p) == 1 {
			p = "0" + p
		}
		bytes = append(bytes, p)
	}
	return strings.Join(bytes, ":")
}

// ParsePowerStatus extracts the state from cec-client output, or "unknown".
func ParsePowerStatus(output string) string {
	m := powerStatusPattern.FindStringSubmatch(output)
	if m == nil {
		return "unknown"
	}
	return strings.TrimSpace(strings.ToLower(m[1]))
}

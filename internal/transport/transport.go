package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mosys-billing/tvfleet/internal/process"
)

// Kind selects a transport backend.
type Kind string

// Backend kinds.
const (
	KindADB Kind = "adb"
	KindCEC Kind = "cec"
)

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindADB, KindCEC:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Opcode is the backend-specific payload a command name resolves to.
type Opcode string

// Status classifies the result of one send.
type Status string

// Outcome statuses.
const (
	StatusSuccess        Status = "success"
	StatusTimeout        Status = "timeout"
	StatusProcessFailure Status = "process_failure"
	StatusUnavailable    Status = "unavailable"
)

// Outcome is the typed result of invoking the external tool once.
type Outcome struct {
	Status     Status  `json:"status"`
	Detail     string  `json:"detail,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// OK reports whether the send succeeded.
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

// Adapter sends resolved commands to a display.
type Adapter interface {
	Kind() Kind

	// Resolve maps a command name to its opcode, or ErrInvalidCommand.
	Resolve(command string) (Opcode, error)

	// Commands lists the accepted command names, sorted.
	Commands() []string

	// Send invokes the external tool once. It never retries.
	Send(ctx context.Context, address string, op Opcode) Outcome
}

// MediaStager is implemented by backends that can copy a file to the
// display and open it.
type MediaStager interface {
	// MediaPath returns where filename lands on the device.
	MediaPath(filename string) string
	PushFile(ctx context.Context, address, localPath, remotePath string) Outcome
	PlayMedia(ctx context.Context, address, remotePath string) Outcome
}

// OverlayPresenter is implemented by backends that can launch the rental
// countdown overlay.
type OverlayPresenter interface {
	ShowOverlay(ctx context.Context, address string, seconds int, text string) Outcome
}

// PowerQuerier is implemented by backends that can report a display's
// power state (e.g. "on", "standby").
type PowerQuerier interface {
	PowerStatus(ctx context.Context, address string) (string, error)
}

// Executor runs an external tool. *process.Runner satisfies it.
type Executor interface {
	Run(ctx context.Context, req process.Request) (process.Result, error)
}

// outcomeFromRun maps a runner result onto an Outcome.
func outcomeFromRun(res process.Result, err error) Outcome {
	out := Outcome{
		Status:     StatusSuccess,
		DurationMS: float64(res.Duration.Microseconds()) / 1000,
	}
	switch {
	case err == nil:
	case errors.Is(err, process.ErrBinaryNotFound):
		out.Status = StatusUnavailable
		out.Detail = err.Error()
	case errors.Is(err, process.ErrTimeout):
		out.Status = StatusTimeout
		out.Detail = err.Error()
	default:
		out.Status = StatusProcessFailure
		out.Detail = err.Error()
	}
	return out
}

// commandTable is an immutable command name to opcode map.
type commandTable map[string]Opcode

func (t commandTable) resolve(kind Kind, command string) (Opcode, error) {
	op, ok := t[command]
	if !ok {
		return "", fmt.Errorf("%w: %q is not a %s command", ErrInvalidCommand, command, kind)
	}
	return op, nil
}

func (t commandTable) names() []string {
	out := make([]string, 0, len(t))
	for name := range t {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

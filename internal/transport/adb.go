package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"path"
	"strconv"
	"time"

	"github.com/mosys-billing/tvfleet/internal/process"
)

// adbCommands maps command names to "adb shell" arguments.
var adbCommands = commandTable{
	"off":         "input keyevent KEYCODE_POWER",
	"on":          "input keyevent KEYCODE_WAKEUP",
	"sleep":       "input keyevent KEYCODE_SLEEP",
	"volume_up":   "input keyevent KEYCODE_VOLUME_UP",
	"volume_down": "input keyevent KEYCODE_VOLUME_DOWN",
	"home":        "input keyevent KEYCODE_HOME",
}

// ADBConfig configures the ADB adapter.
type ADBConfig struct {
	Binary string

	// DevicePort is the device's adb-over-TCP port, usually 5555.
	DevicePort int

	// Timeout bounds one shell command.
	Timeout time.Duration

	// PushTimeout bounds one file push.
	PushTimeout time.Duration

	// MediaDir is the on-device directory media is pushed to.
	MediaDir string

	// OverlayApp is the activity launched for the countdown overlay.
	OverlayApp string
}

// ADB drives Android displays through "adb -s <addr>:<port> shell".
type ADB struct {
	cfg  ADBConfig
	exec Executor
}

// NewADB returns an ADB adapter that runs commands through exec.
func NewADB(cfg ADBConfig, exec Executor) *ADB {
	if cfg.Binary == "" {
		cfg.Binary = "adb"
	}
	if cfg.DevicePort == 0 {
		cfg.DevicePort = 5555
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PushTimeout == 0 {
		cfg.PushTimeout = 5 * time.Minute
	}
	if cfg.MediaDir == "" {
		cfg.MediaDir = "/sdcard/Download"
	}
	if cfg.OverlayApp == "" {
		cfg.OverlayApp = "com.mosys.billing/.MainActivity"
	}
	return &ADB{cfg: cfg, exec: exec}
}

// Kind returns KindADB.
func (a *ADB) Kind() Kind { return KindADB }

// Resolve maps a command name to its shell arguments.
func (a *ADB) Resolve(command string) (Opcode, error) {
	return adbCommands.resolve(KindADB, command)
}

// Commands lists the accepted command names.
func (a *ADB) Commands() []string {
	return adbCommands.names()
}

func (a *ADB) serial(address string) string {
	return net.JoinHostPort(address, strconv.Itoa(a.cfg.DevicePort))
}

// Send runs "adb -s <addr>:<port> shell <opcode>".
func (a *ADB) Send(ctx context.Context, address string, op Opcode) Outcome {
	return a.shell(ctx, address, string(op))
}

func (a *ADB) shell(ctx context.Context, address, command string) Outcome {
	res, err := a.exec.Run(ctx, process.Request{
		Name:    "adb shell",
		Binary:  a.cfg.Binary,
		Args:    []string{"-s", a.serial(address), "shell", command},
		Timeout: a.cfg.Timeout,
	})
	return outcomeFromRun(res, err)
}

// MediaPath returns the on-device path for filename.
func (a *ADB) MediaPath(filename string) string {
	return path.Join(a.cfg.MediaDir, filename)
}

// PushFile runs "adb -s <addr>:<port> push <local> <remote>".
func (a *ADB) PushFile(ctx context.Context, address, localPath, remotePath string) Outcome {
	res, err := a.exec.Run(ctx, process.Request{
		Name:    "adb push",
		Binary:  a.cfg.Binary,
		Args:    []string{"-s", a.serial(address), "push", localPath, remotePath},
		Timeout: a.cfg.PushTimeout,
	})
	return outcomeFromRun(res, err)
}

// PlayMedia opens remotePath with the device's default video viewer.
func (a *ADB) PlayMedia(ctx context.Context, address, remotePath string) Outcome {
	cmd := fmt.Sprintf("am start -a android.intent.action.VIEW -d %s -t video/*",
		shellQuote("file://"+remotePath))
	return a.shell(ctx, address, cmd)
}

// ShowOverlay launches the countdown overlay activity. The text is passed
// base64-encoded so any characters survive the device shell.
func (a *ADB) ShowOverlay(ctx context.Context, address string, seconds int, text string) Outcome {
	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	cmd := fmt.Sprintf("am start -n %s --ei seconds %d --es customText %s",
		a.cfg.OverlayApp, seconds, shellQuote(encoded))
	return a.shell(ctx, address, cmd)
}

// shellQuote wraps s in single quotes for the device shell.
func shellQuote(s string) string {
	out := []byte{'\''}
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, `'\''`...)
			continue
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}

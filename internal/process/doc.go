// Package process runs short-lived external tools such as adb and
// cec-client.
//
// Features:
//   - Per-call timeout with SIGTERM then SIGKILL to the whole process group
//   - Bounded stdout/stderr capture
//   - Optional stdin payload
//   - Distinct errors for a missing binary, a timeout and a non-zero exit
//
// Example usage:
//
//	r := process.NewRunner()
//	res, err := r.Run(ctx, process.Request{
//	    Name:    "cec-client",
//	    Binary:  "cec-client",
//	    Args:    []string{"-s", "-d", "1"},
//	    Stdin:   "tx 10:04",
//	    Timeout: 5 * time.Second,
//	})
//	switch {
//	case errors.Is(err, process.ErrBinaryNotFound):
//	    // tool not installed
//	case errors.Is(err, process.ErrTimeout):
//	    // tool hung
//	}
package process

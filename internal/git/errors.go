package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// PushError reports a rejected or failed push together with the captured git
// output. NonFastForward marks rejections where the remote branch holds
// commits not reachable from the pushed ref.
type PushError struct {
	Output         string
	ExitCode       int
	NonFastForward bool
}

func (e *PushError) Error() string {
	kind := "push failed"
	if e.NonFastForward {
		kind = "push rejected (non-fast-forward)"
	}
	return fmt.Sprintf("%s (exit %d): %s", kind, e.ExitCode, strings.TrimSpace(e.Output))
}

// IsNonFastForward reports whether err is a push rejection caused by
// divergent remote history.
func IsNonFastForward(err error) bool {
	var pe *PushError
	return errors.As(err, &pe) && pe.NonFastForward
}

// classifyPushError turns captured push output into a PushError.
func classifyPushError(output string, code int) *PushError {
	return &PushError{
		Output:         output,
		ExitCode:       code,
		NonFastForward: looksNonFastForward(output),
	}
}

// looksNonFastForward matches the rejection markers git emits for pushes the
// remote refused because its branch has diverged.
func looksNonFastForward(output string) bool {
	lower := strings.ToLower(output)
	if strings.Contains(lower, "non-fast-forward") {
		return true
	}
	if strings.Contains(lower, "[rejected]") &&
		(strings.Contains(lower, "fetch first") || strings.Contains(lower, "fetch-first")) {
		return true
	}
	return false
}

func asExitError(err error, target **exec.ExitError) bool {
	return errors.As(err, target)
}

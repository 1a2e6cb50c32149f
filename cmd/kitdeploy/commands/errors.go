package commands

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/saaskit/kitdeploy/pkg/engine"
)

// Exit codes returned by the kitdeploy binary.
const (
	ExitOK    = 0
	ExitError = 1
	ExitFatal = 2
)

// ExitCode maps a command error to the process exit code. Fatal engine
// errors exit with ExitFatal so scripts can tell "needs an operator" apart
// from ordinary failures.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case engine.IsFatal(err):
		return ExitFatal
	default:
		return ExitError
	}
}

// Diagnose renders err for the terminal. Engine errors are expanded into
// their code, details and remediation.
func Diagnose(err error) string {
	if err == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Error: %v\n", err)

	var ee *engine.EngineError
	if !errors.As(err, &ee) {
		return b.String()
	}

	if ee.Code != "" {
		fmt.Fprintf(&b, "  code: %s\n", ee.Code)
	}
	keys := make([]string, 0, len(ee.Details))
	for k := range ee.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %v\n", k, ee.Details[k])
	}
	if ee.Remediation != "" {
		fmt.Fprintf(&b, "  remediation: %s\n", ee.Remediation)
	}
	if ee.Class == engine.ErrorClassFatal {
		b.WriteString("\nThe deployment was stopped. Resolve the problem above before running kitdeploy again.\n")
	}
	return b.String()
}

package helm

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"

	"github.com/telekom/k8s-chartdeploy/pkg/process"
)

const redacted = "***"

// Invocation is one helm command as an ordered argument list. Args[0] is
// the helm binary. It is built fresh per call and never modified.
type Invocation struct {
	Args []string
	// Verb is the helm subcommand, e.g. "install" or "repo-add".
	Verb string
	// secret holds argument indexes whose values must not be logged.
	secret map[int]bool
}

// String renders the invocation as a shell-safe command line.
func (i Invocation) String() string {
	return shellescape.QuoteCommand(i.Args)
}

// Redacted renders the invocation with secret arguments masked.
func (i Invocation) Redacted() string {
	if len(i.secret) == 0 {
		return i.String()
	}
	args := make([]string, len(i.Args))
	for idx, a := range i.Args {
		if i.secret[idx] {
			a = redacted
		}
		args[idx] = a
	}
	return shellescape.QuoteCommand(args)
}

// HasFlag reports whether flag appears in the argument list.
func (i Invocation) HasFlag(flag string) bool {
	for _, a := range i.Args {
		if a == flag || strings.HasPrefix(a, flag+"=") {
			return true
		}
	}
	return false
}

// FlagValue returns the argument following flag.
func (i Invocation) FlagValue(flag string) (string, bool) {
	for idx, a := range i.Args {
		if a == flag && idx+1 < len(i.Args) {
			return i.Args[idx+1], true
		}
	}
	return "", false
}

// Script is a sequence of invocations run in one shell, each step gated on
// the previous one succeeding, plus the environment override and any
// temporary files created for it.
type Script struct {
	Steps []Invocation
	Env   []string
	// TempFiles are owned by whoever runs the script; remove them with Cleanup.
	TempFiles []string
	// ExitCodeOnly marks scripts whose output is chart content rather than
	// helm diagnostics, so only the exit code decides success.
	ExitCodeOnly bool
}

// Verb is the verb of the final step, the one the script exists for.
func (s Script) Verb() string {
	if len(s.Steps) == 0 {
		return ""
	}
	return s.Steps[len(s.Steps)-1].Verb
}

// Last returns the final step.
func (s Script) Last() Invocation {
	if len(s.Steps) == 0 {
		return Invocation{}
	}
	return s.Steps[len(s.Steps)-1]
}

// Contains reports whether any step has the given verb.
func (s Script) Contains(verb string) bool {
	for _, st := range s.Steps {
		if st.Verb == verb {
			return true
		}
	}
	return false
}

func (s Script) CommandLine() string {
	return s.join(Invocation.String)
}

func (s Script) Redacted() string {
	return s.join(Invocation.Redacted)
}

func (s Script) join(render func(Invocation) string) string {
	parts := make([]string, 0, len(s.Steps))
	for _, st := range s.Steps {
		parts = append(parts, render(st))
	}
	return strings.Join(parts, " && ")
}

// Command converts the script into a process.Command with the given timeout.
func (s Script) Command(timeout time.Duration) process.Command {
	return process.Command{
		Line:    s.CommandLine(),
		Display: s.Redacted(),
		Env:     s.Env,
		Timeout: timeout,
		Label:   s.Verb(),

		ExitCodeOnly: s.ExitCodeOnly,
	}
}

// Cleanup removes the script's temporary files. Files already gone are ignored.
func (s Script) Cleanup() error {
	var errs []error
	for _, f := range s.TempFiles {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

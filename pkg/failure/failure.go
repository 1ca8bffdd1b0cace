// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure for callers that need to react differently to
// a bad credential, an unreachable dependency, or a rejected request.
type Kind string

const (
	KindConfiguration    Kind = "Configuration"
	KindConnectivity     Kind = "Connectivity"
	KindValidation       Kind = "Validation"
	KindCommandExecution Kind = "CommandExecution"
	KindTimeout          Kind = "Timeout"
	KindNotFound         Kind = "NotFound"
)

// Reason narrows a Kind down to something a caller can act on.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNameInUse         Reason = "NameInUse"
	ReasonTLSVerification   Reason = "TLSVerification"
	ReasonConnectionRefused Reason = "ConnectionRefused"
	ReasonUnreachable       Reason = "Unreachable"
	ReasonFormat            Reason = "Format"
	ReasonRequired          Reason = "Required"
	ReasonClusterStatus     Reason = "ClusterStatus"
)

// Target names the party a connectivity failure is attributed to.
type Target string

const (
	TargetNone       Target = ""
	TargetCluster    Target = "cluster"
	TargetRepository Target = "repository"
	TargetRelease    Target = "release"
	TargetChart      Target = "chart"
)

// Error is the single error type produced by the deployment pipeline.
type Error struct {
	Kind    Kind
	Reason  Reason
	Target  Target
	Name    string // cluster id, repository name or release name the failure refers to
	Field   string
	Pattern string
	Message string
	Output  string // captured subprocess output, if any
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Field != "" && !strings.Contains(e.Message, e.Field) {
		fmt.Fprintf(&b, " (field %s)", e.Field)
	}
	if e.Pattern != "" {
		fmt.Fprintf(&b, ", expected pattern %s", e.Pattern)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind and, when set on the target, by Reason.
// This lets callers write errors.Is(err, &failure.Error{Kind: failure.KindTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == ReasonNone || t.Reason == e.Reason
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the Kind of the first *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return ""
}

// ReasonOf returns the Reason of the first *Error in the chain.
func ReasonOf(err error) Reason {
	if fe, ok := As(err); ok {
		return fe.Reason
	}
	return ReasonNone
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func Configuration(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func Connectivity(target Target, name, format string, args ...any) *Error {
	return &Error{Kind: KindConnectivity, Reason: ReasonUnreachable, Target: target, Name: name, Message: fmt.Sprintf(format, args...)}
}

// Validation reports a malformed request field with enough detail to correct it.
func Validation(reason Reason, field, pattern, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Field: field, Pattern: pattern, Message: fmt.Sprintf(format, args...)}
}

func CommandExecution(reason Reason, output, format string, args ...any) *Error {
	return &Error{Kind: KindCommandExecution, Reason: reason, Output: output, Message: fmt.Sprintf(format, args...)}
}

func Timeout(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

func NotFound(target Target, name string) *Error {
	return &Error{Kind: KindNotFound, Target: target, Name: name, Message: fmt.Sprintf("%s not found: %s", target, name)}
}

// Wrap attaches cause to e and returns e.
func (e *Error) Wrap(cause error) *Error {
	e.Err = cause
	return e
}

// WithTarget records the party a failure is attributed to.
func (e *Error) WithTarget(target Target, name string) *Error {
	e.Target = target
	e.Name = name
	return e
}

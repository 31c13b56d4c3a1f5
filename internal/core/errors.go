package core

import (
	"errors"
	"fmt"
	"strings"
)

// ParseError reports a malformed line in a profile file. It is localized to
// a line number and never aborts parsing of the remainder of the file.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// MissingPropertyError reports a profile that lacks a property required by
// the properties it does set (e.g. role_arn without source_profile).
type MissingPropertyError struct {
	Profile  string
	Property string
}

func (e *MissingPropertyError) Error() string {
	return fmt.Sprintf("Profile '%s' is missing required property '%s'", e.Profile, e.Property)
}

// DanglingReferenceError reports a source_profile or sso_session reference
// to a section that does not exist.
type DanglingReferenceError struct {
	Profile   string
	Reference string
	// Kind is "source profile" or "sso-session".
	Kind string
}

func (e *DanglingReferenceError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "source profile"
	}
	return fmt.Sprintf("Profile '%s' references %s '%s' which does not exist", e.Profile, kind, e.Reference)
}

// CircularDependencyError reports a cycle in the source_profile graph.
// Path holds the walk from the starting profile through the repeated name,
// so the first and last elements of the rendered path match.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("A circular profile dependency was found between %s", strings.Join(e.Path, "->"))
}

// DependencyError marks a profile invalid because a profile it depends on,
// directly or transitively, is invalid.
type DependencyError struct {
	Profile string
	On      string
	Cause   error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("Profile '%s' depends on invalid profile '%s': %s", e.Profile, e.On, e.Cause)
}

func (e *DependencyError) Unwrap() error { return e.Cause }

// ProviderNotFoundError reports a resolution request for a profile that is
// not (or is no longer) in the resolvable set.
type ProviderNotFoundError struct {
	Profile string
}

func (e *ProviderNotFoundError) Error() string {
	return fmt.Sprintf("no credential provider found for profile '%s'", e.Profile)
}

// InteractiveActionRequiredError signals that resolution cannot proceed
// without user interaction (SSO login, typically). It is distinguishable
// from hard failures so callers can offer a sign-in action instead of an
// error dialog.
type InteractiveActionRequiredError struct {
	Profile string
	Reason  string
}

func (e *InteractiveActionRequiredError) Error() string {
	return fmt.Sprintf("profile '%s' requires user action: %s", e.Profile, e.Reason)
}

// UpstreamServiceError wraps a failed STS or SSO call.
type UpstreamServiceError struct {
	Service   string
	Operation string
	Err       error
}

func (e *UpstreamServiceError) Error() string {
	return fmt.Sprintf("%s %s failed: %s", e.Service, e.Operation, e.Err)
}

func (e *UpstreamServiceError) Unwrap() error { return e.Err }

// ProcessExecutionError reports a credential_process that exited nonzero or
// produced unparseable output.
type ProcessExecutionError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *ProcessExecutionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("credential_process %q failed: %s: %s", e.Command, e.Err, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("credential_process %q failed: %s", e.Command, e.Err)
}

func (e *ProcessExecutionError) Unwrap() error { return e.Err }

// IsInteractiveActionRequired reports whether err (or anything it wraps) is
// an InteractiveActionRequiredError.
func IsInteractiveActionRequired(err error) bool {
	var target *InteractiveActionRequiredError
	return errors.As(err, &target)
}

// IsProviderNotFound reports whether err is a ProviderNotFoundError.
func IsProviderNotFound(err error) bool {
	var target *ProviderNotFoundError
	return errors.As(err, &target)
}

// RootReason unwraps DependencyError layers and returns the underlying
// validation failure.
func RootReason(err error) error {
	for {
		var dep *DependencyError
		if !errors.As(err, &dep) {
			return err
		}
		err = dep.Cause
	}
}

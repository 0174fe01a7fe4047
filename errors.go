package unitwork

import (
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/unitwork/backend"
)

// Standard sentinel errors for common misuses.
var (
	// ErrCommitted is returned when commit is invoked on a unit of work
	// that already reached a terminal state.
	ErrCommitted = errors.New("unitwork: unit of work already committed")

	// ErrRunning is returned when a unit of work is mutated or committed
	// again while a commit is in flight.
	ErrRunning = errors.New("unitwork: commit already in progress")
)

// DuplicateRegistrationError is returned at registration time when the same
// identity is registered twice for the same operation kind and
// combine-on-duplicate is not enabled.
type DuplicateRegistrationError struct {
	Op         backend.Op
	EntityType string
	Key        any
}

// Error returns the error string.
func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("unitwork: duplicate registration of %s %s (key=%v)", e.EntityType, e.Op, e.Key)
}

// IsDuplicateRegistration returns true if the error is a DuplicateRegistrationError.
func IsDuplicateRegistration(err error) bool {
	if err == nil {
		return false
	}
	var e *DuplicateRegistrationError
	return errors.As(err, &e)
}

// CyclicDependencyError is returned when the relationship graph contains a
// cycle. It is raised before any backend call is made.
type CyclicDependencyError struct {
	// Nodes describes the identities left unschedulable by the cycle.
	Nodes []string
}

// Error returns the error string.
func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("unitwork: cyclic dependency involving %s", strings.Join(e.Nodes, ", "))
}

// IsCyclicDependency returns true if the error is a CyclicDependencyError.
func IsCyclicDependency(err error) bool {
	if err == nil {
		return false
	}
	var e *CyclicDependencyError
	return errors.As(err, &e)
}

// ConfigurationConflictError is returned when an incompatible option
// combination is requested. It is raised before any backend call is made.
type ConfigurationConflictError struct {
	Reason string
}

// Error returns the error string.
func (e *ConfigurationConflictError) Error() string {
	return fmt.Sprintf("unitwork: configuration conflict: %s", e.Reason)
}

// IsConfigurationConflict returns true if the error is a ConfigurationConflictError.
func IsConfigurationConflict(err error) bool {
	if err == nil {
		return false
	}
	var e *ConfigurationConflictError
	return errors.As(err, &e)
}

// UnknownTargetError is returned when a declared relationship points at a
// record that was never registered in the same unit of work. Edges may not
// reference nodes outside the unit of work, so this fails fast before any
// backend call.
type UnknownTargetError struct {
	EntityType string
	Field      string
	Value      any
}

// Error returns the error string.
func (e *UnknownTargetError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("unitwork: relationship target %s (%s=%v) is not registered", e.EntityType, e.Field, e.Value)
	}
	return fmt.Sprintf("unitwork: relationship target %s is not registered", e.EntityType)
}

// IsUnknownTarget returns true if the error is an UnknownTargetError.
func IsUnknownTarget(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownTargetError
	return errors.As(err, &e)
}

// StatusUnresolvedDependency is the status code recorded on a record whose
// relationship target failed or never resolved. Such records are never sent
// to the backend.
const StatusUnresolvedDependency = "UNRESOLVED_DEPENDENCY"

// BackendOperationError wraps a backend's per-record failure with the
// operation context it occurred in.
type BackendOperationError struct {
	Op         backend.Op
	EntityType string
	Outcome    backend.OutcomeError
}

// Error returns the error string.
func (e *BackendOperationError) Error() string {
	return fmt.Sprintf("unitwork: %s %s failed: %s", e.Op, e.EntityType, e.Outcome.Error())
}

// IsBackendOperationError returns true if the error is a BackendOperationError.
func IsBackendOperationError(err error) bool {
	if err == nil {
		return false
	}
	var e *BackendOperationError
	return errors.As(err, &e)
}

// CommitError is returned when a commit aborts. It carries the Result
// accumulated up to the aborting bucket so callers can inspect what was
// attempted, plus the triggering failure.
type CommitError struct {
	// Result holds outcomes for the buckets dispatched before the abort.
	Result *Result

	// Err is the failure that aborted the commit.
	Err error
}

// Error returns the error string.
func (e *CommitError) Error() string {
	return fmt.Sprintf("unitwork: commit aborted: %v", e.Err)
}

// Unwrap returns the triggering failure.
func (e *CommitError) Unwrap() error {
	return e.Err
}

// IsCommitError returns true if the error is a CommitError.
func IsCommitError(err error) bool {
	if err == nil {
		return false
	}
	var e *CommitError
	return errors.As(err, &e)
}

// RollbackError wraps a failure that occurred while rolling back to a
// savepoint. The original commit failure is preserved in Cause.
type RollbackError struct {
	// Err is the rollback failure itself.
	Err error

	// Cause is the commit failure that triggered the rollback, if any.
	Cause error
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("unitwork: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying rollback failure.
func (e *RollbackError) Unwrap() error {
	return e.Err
}

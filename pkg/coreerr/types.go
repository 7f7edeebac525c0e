// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package coreerr defines the router's two-kind error taxonomy:
// operational errors (recoverable at step scope) and bug errors
// (invariant violations, always run-terminal).
package coreerr

import "fmt"

// Code is a stable error code drawn from the closed sets in spec §4.2/§4.9.
type Code string

const (
	CodeTimeout            Code = "TIMEOUT"
	CodeNonzeroExit        Code = "NONZERO_EXIT"
	CodeInvalidJSONOutput  Code = "INVALID_JSON_OUTPUT"
	CodeCommandNotFound    Code = "COMMAND_NOT_FOUND"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeCWDNotFound        Code = "CWD_NOT_FOUND"
	CodeCWDNotDirectory    Code = "CWD_NOT_DIRECTORY"
	CodeEnvInvalid         Code = "ENV_INVALID"
	CodeConnectionFailed   Code = "CONNECTION_FAILED"
	CodeHTTPError          Code = "HTTP_ERROR"
	CodeCapabilityMissing  Code = "CAPABILITY_MISSING"
	CodeUnknownAdapter     Code = "UNKNOWN_ADAPTER"
	CodePolicyDenied       Code = "POLICY_DENIED"
	CodeMaxStepsExceeded   Code = "MAX_STEPS_EXCEEDED"
	CodeCancelled          Code = "CANCELLED"
	CodeBugError           Code = "BUG_ERROR"
	CodeUnknownError       Code = "UNKNOWN_ERROR"
)

// OperationalError represents an expected failure at step or dispatch
// scope: timeouts, bad remote output, missing capability, denied policy.
// It does not by itself terminate a run unless the router treats its
// origin (selection/policy) as run-terminal per spec §4.5.
type OperationalError struct {
	ErrorCode Code
	Message   string
	Details   map[string]any
	Cause     error
}

func (e *OperationalError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("operational error [%s]: %s", e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("operational error [%s]", e.ErrorCode)
}

func (e *OperationalError) Unwrap() error { return e.Cause }

// IsUserVisible implements pkg-errors-style UserVisibleError.
func (e *OperationalError) IsUserVisible() bool { return true }

// ErrorType implements pkg-errors-style ErrorClassifier.
func (e *OperationalError) ErrorType() string { return string(e.ErrorCode) }

// IsRetryable reports whether the operational error is plausibly transient.
func (e *OperationalError) IsRetryable() bool {
	switch e.ErrorCode {
	case CodeTimeout, CodeConnectionFailed, CodeHTTPError:
		return true
	default:
		return false
	}
}

// BugError represents an invariant violation or unexpected exception.
// It is recorded as TOOL_CALL_FAILED, terminates the run with RUN_FAILED,
// and is re-raised to the caller per spec §4.5/§4.9.
type BugError struct {
	ErrorCode Code
	Message   string
	Details   map[string]any
	Cause     error
}

func (e *BugError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bug error [%s]: %s", e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("bug error [%s]", e.ErrorCode)
}

func (e *BugError) Unwrap() error { return e.Cause }

// NewOperational builds an OperationalError with the given code and details.
func NewOperational(code Code, message string, details map[string]any) *OperationalError {
	return &OperationalError{ErrorCode: code, Message: message, Details: details}
}

// NewBug builds a BugError with the given code and details.
func NewBug(code Code, message string, details map[string]any) *BugError {
	return &BugError{ErrorCode: code, Message: message, Details: details}
}

// AsOperational extracts an *OperationalError from err, if any is present
// in its chain.
func AsOperational(err error) (*OperationalError, bool) {
	var opErr *OperationalError
	if As(err, &opErr) {
		return opErr, true
	}
	return nil, false
}

// AsBug extracts a *BugError from err, if any is present in its chain.
func AsBug(err error) (*BugError, bool) {
	var bugErr *BugError
	if As(err, &bugErr) {
		return bugErr, true
	}
	return nil, false
}

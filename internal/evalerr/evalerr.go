// Copyright 2019 Google LLC
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

// Package evalerr defines the error taxonomy of the peer evaluation engine and
// maps it onto grpc codes and HTTP statuses.
package evalerr

import (
	"context"
	"fmt"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies an engine failure.
type Kind int

// The engine reports failures with one of the following kinds.
const (
	KindUnknown Kind = iota
	KindConfiguration
	KindAlreadyAssigned
	KindPermission
	KindInvalidState
	KindDeadlineExceeded
	KindNoEligibleEvaluator
	KindValidation
	KindPersistence
	KindNotFound
)

var kindNames = map[Kind]string{
	KindUnknown:             "UnknownError",
	KindConfiguration:       "ConfigurationError",
	KindAlreadyAssigned:     "AlreadyAssignedError",
	KindPermission:          "PermissionError",
	KindInvalidState:        "InvalidStateError",
	KindDeadlineExceeded:    "DeadlineExceededError",
	KindNoEligibleEvaluator: "NoEligibleEvaluatorError",
	KindValidation:          "ValidationError",
	KindPersistence:         "PersistenceError",
	KindNotFound:            "NotFound",
}

var kindCodes = map[Kind]codes.Code{
	KindUnknown:             codes.Internal,
	KindConfiguration:       codes.FailedPrecondition,
	KindAlreadyAssigned:     codes.AlreadyExists,
	KindPermission:          codes.PermissionDenied,
	KindInvalidState:        codes.FailedPrecondition,
	KindDeadlineExceeded:    codes.DeadlineExceeded,
	KindNoEligibleEvaluator: codes.ResourceExhausted,
	KindValidation:          codes.InvalidArgument,
	KindPersistence:         codes.Unavailable,
	KindNotFound:            codes.NotFound,
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return kindNames[KindUnknown]
}

// Code returns the grpc code a kind is reported with.
func (k Kind) Code() codes.Code {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return codes.Internal
}

// Error is an engine failure of a specific kind.
type Error struct {
	Kind  Kind
	Msg   string
	cause error
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind caused by err.
func Wrap(err error, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), cause: err}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Cause implements the github.com/pkg/errors causer interface.
func (e *Error) Cause() error {
	return e.cause
}

// GRPCStatus lets grpc status.Code and status.Convert see the kind.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Kind.Code(), e.Error())
}

// KindOf reports the kind of err. Context cancellation and deadline errors
// are reported as persistence failures since they only come out of storage calls.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindPersistence
	}
	return KindUnknown
}

// Is reports whether err is an Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus returns the HTTP status code err should be reported with.
func HTTPStatus(err error) int {
	return runtime.HTTPStatusFromCode(KindOf(err).Code())
}

// Retryable reports whether the operation that produced err may be retried.
// Only persistence failures are; validation and permission failures never are.
func Retryable(err error) bool {
	return Is(err, KindPersistence)
}

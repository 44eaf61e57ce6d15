// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies an rpc:error.
type Code string

const (
	CodeParseError     Code = "PARSE_ERROR"
	CodeMethodNotFound Code = "METHOD_NOT_FOUND"
	CodeInvalidParams  Code = "INVALID_PARAMS"
	CodeInternalError  Code = "INTERNAL_ERROR"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeTimeout        Code = "TIMEOUT"

	CodeAgentBusy        Code = "AGENT_BUSY"
	CodeQueueFull        Code = "QUEUE_FULL"
	CodeCommandBlocked   Code = "COMMAND_BLOCKED"
	CodeApprovalRequired Code = "APPROVAL_REQUIRED"
	CodeWorkerNotFound   Code = "WORKER_NOT_FOUND"
)

// Error is an error with a protocol code. Handlers return it to choose
// the code of the rpc:error reply; any other error is reported as
// INTERNAL_ERROR.
type Error struct {
	Code    Code
	Message string
	Details any
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	copied := *e
	copied.Details = details
	return &copied
}

// CodeOf returns the code attached anywhere in err's chain, or
// CodeInternalError.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternalError
}

// errorPayload converts err into the reply for requestID. A wrapped
// *Error keeps its code and details, and the message keeps the
// wrapping context without repeating the code.
func errorPayload(requestID string, err error) ErrorPayload {
	var coded *Error
	if errors.As(err, &coded) {
		message := strings.Replace(err.Error(), coded.Error(), coded.Message, 1)
		return ErrorPayload{RequestID: requestID, Code: coded.Code, Message: message, Details: coded.Details}
	}
	return ErrorPayload{RequestID: requestID, Code: CodeInternalError, Message: err.Error()}
}

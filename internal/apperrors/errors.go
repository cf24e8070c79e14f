package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the short stable identifier a caller can branch on.
// Codes never change once released; messages may.
type Code string

const (
	CodeInvalidSessionConfig  Code = "invalid_session_config"
	CodeInvalidQuestion       Code = "invalid_question"
	CodeInvalidAnswer         Code = "invalid_answer"
	CodeInvalidTransition     Code = "invalid_transition"
	CodeSessionNotFound       Code = "session_not_found"
	CodeQuestionNotFound      Code = "question_not_found"
	CodeConcurrent            Code = "concurrent_update"
	CodeSessionNotServing     Code = "session_not_serving"
	CodeInsufficientQuestions Code = "insufficient_questions"
	CodeStorageUnavailable    Code = "storage_unavailable"
	CodeCorrupted             Code = "corrupted_record"
	CodeTimeout               Code = "timeout"
	CodeInternal              Code = "internal_error"
)

// Error is the typed failure that crosses component boundaries.
// Field is set for validation failures that concern a single input field.
type Error struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %s)", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause while keeping the stable code.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func InvalidSessionConfig(field, message string) *Error {
	return &Error{Code: CodeInvalidSessionConfig, Message: message, Field: field}
}

func InvalidQuestion(field, message string) *Error {
	return &Error{Code: CodeInvalidQuestion, Message: message, Field: field}
}

func InvalidAnswer(message string) *Error {
	return &Error{Code: CodeInvalidAnswer, Message: message}
}

func InvalidTransition(from, to string) *Error {
	return Newf(CodeInvalidTransition, "cannot transition session from %s to %s", from, to)
}

func SessionNotFound(sessionID string) *Error {
	return Newf(CodeSessionNotFound, "session %s not found", sessionID)
}

func QuestionNotFound(questionID string) *Error {
	return Newf(CodeQuestionNotFound, "question %s not found", questionID)
}

func Concurrent(sessionID string, attempts int) *Error {
	return Newf(CodeConcurrent, "session %s was modified concurrently, gave up after %d attempts", sessionID, attempts)
}

func SessionNotServing(sessionID, status string) *Error {
	return Newf(CodeSessionNotServing, "session %s is %s and cannot serve questions", sessionID, status)
}

func InsufficientQuestions(requested, available int) *Error {
	return Newf(CodeInsufficientQuestions, "requested %d questions but only %d available", requested, available)
}

func Corrupted(entity string, err error) *Error {
	return &Error{Code: CodeCorrupted, Message: "stored " + entity + " record is corrupted", Err: err}
}

// CodeOf extracts the stable code from any error chain.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a code to the transport status used by the handlers.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidSessionConfig, CodeInvalidQuestion, CodeInvalidAnswer:
		return http.StatusBadRequest
	case CodeSessionNotFound, CodeQuestionNotFound:
		return http.StatusNotFound
	case CodeInvalidTransition, CodeConcurrent, CodeSessionNotServing:
		return http.StatusConflict
	case CodeInsufficientQuestions:
		return http.StatusUnprocessableEntity
	case CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

package bendload

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// stageNotFoundCode is the server error code returned by REMOVE when the
// staged object no longer exists. Cleanup treats it as success.
const stageNotFoundCode = 1003

type APIErrorResponseBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type APIError struct {
	RespBody   APIErrorResponseBody
	RespText   string
	StatusCode int
	Hint       string
}

func (e APIError) Error() string {
	message := e.RespBody.Message
	if message == "" {
		message = e.RespText
	}
	message = fmt.Sprintf("%d %s", e.StatusCode, message)
	if e.Hint != "" {
		message = strings.Trim(message, ".")
		message += ". " + e.Hint
	}
	return message
}

func NewAPIError(hint string, status int, respBuf []byte) error {
	respBody := APIErrorResponseBody{}
	_ = json.Unmarshal(respBuf, &respBody)
	return APIError{
		RespBody:   respBody,
		RespText:   string(respBuf),
		StatusCode: status,
		Hint:       hint,
	}
}

func IsNotFound(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

func IsProxyErr(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 520
}

func IsAuthFailed(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 401
}

// IsStageNotFound reports whether err is a query error with the server's
// "resource not found" code, e.g. a REMOVE of an already-deleted stage file.
func IsStageNotFound(err error) bool {
	var qErr *QueryError
	return errors.As(err, &qErr) && qErr.Code == stageNotFoundCode
}

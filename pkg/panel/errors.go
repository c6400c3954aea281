package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// TransportDetail is the detail reported when the panel could not be reached.
const TransportDetail = "An internal server error occurred."

// AuthError reports that no valid panel credential could be obtained.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("panel authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// UpstreamError is a non-2xx answer from the panel, already flattened.
type UpstreamError struct {
	Status  int    `json:"-"`
	Detail  string `json:"detail"`
	Summary string `json:"summary,omitempty"`
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("panel returned %d: %s", e.Status, e.Detail)
}

// TransportError means no response was received from the panel.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("panel request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AsUpstream returns the panel's rejection of the operation itself. A rejected
// token exchange surfaces as an AuthError and is not reported here.
func AsUpstream(err error) (*UpstreamError, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return nil, false
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return nil, false
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream, true
	}
	return nil, false
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	upstream, ok := AsUpstream(err)
	return ok && upstream.Status == http.StatusNotFound
}

type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Summary string          `json:"summary"`
}

type fieldError struct {
	Msg string        `json:"msg"`
	Loc []interface{} `json:"loc"`
}

// synthesizeError builds the error shape used when the panel body is not JSON.
func synthesizeError(status int, statusText string) *UpstreamError {
	return &UpstreamError{
		Status:  status,
		Detail:  statusText,
		Summary: fmt.Sprintf("An error occurred with status: %d", status),
	}
}

// decodeError turns a non-2xx panel body into an UpstreamError.
func decodeError(status int, statusText string, body []byte) *UpstreamError {
	if len(body) == 0 || !json.Valid(body) {
		return synthesizeError(status, statusText)
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return &UpstreamError{
			Status: status,
			Detail: strings.TrimSpace(string(body)),
		}
	}

	detail := FlattenDetail(eb.Detail)
	if detail == "" {
		detail = statusText
	}

	return &UpstreamError{
		Status:  status,
		Detail:  detail,
		Summary: eb.Summary,
	}
}

// FlattenDetail renders a panel "detail" value as one human-readable string.
// A list of field errors becomes "<msg> (in <loc > loc>)" entries joined by ", ".
func FlattenDetail(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}

	var fields []fieldError
	if err := json.Unmarshal(raw, &fields); err == nil {
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			if len(f.Loc) == 0 {
				parts = append(parts, f.Msg)
				continue
			}
			loc := make([]string, len(f.Loc))
			for i, segment := range f.Loc {
				loc[i] = fmt.Sprint(segment)
			}
			parts = append(parts, fmt.Sprintf("%s (in %s)", f.Msg, strings.Join(loc, " > ")))
		}
		return strings.Join(parts, ", ")
	}

	return trimmed
}

func statusText(resp *http.Response) string {
	prefix := fmt.Sprintf("%d ", resp.StatusCode)
	if text := strings.TrimPrefix(resp.Status, prefix); text != "" && text != resp.Status {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

package client

import (
	"encoding/json"
	"fmt"
)

// Envelope is the response wrapper shared by the token and read endpoints:
// { state?: bool, code?: number, message?: string, data?: ... }.
// Code and message are also accepted under the alternative keys some endpoints use
// (errno, errcode, msg, error, error_description).
type Envelope struct {
	State   *bool
	Code    int64
	HasCode bool
	Message string
	Data    json.RawMessage
	Raw     map[string]any
}

// OK reports whether the envelope signals success. An omitted state counts as success; callers
// guard that default by checking the payload they need.
func (e *Envelope) OK() bool {
	return e.State == nil || *e.State
}

// apiError describes the envelope as an upstream failure.
func (e *Envelope) apiError(status int) *APIError {
	return &APIError{StatusCode: status, Code: e.Code, Message: e.Message}
}

// APIError is an upstream failure: a non-2xx HTTP status or an envelope that reports an error.
type APIError struct {
	StatusCode int
	Code       int64
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no message"
	}
	if e.Code != 0 {
		return fmt.Sprintf("upstream error (status %d, code %d): %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, msg)
}

// SearchParams selects one page of search results.
type SearchParams struct {
	Keyword string
	Offset  int
	Limit   int
	// Type optionally filters by file type as understood by the upstream API.
	Type string
}

// SearchPage is one page of search results. Total is the number of matches across all pages.
type SearchPage struct {
	Items  []map[string]any
	Total  int
	Offset int
	Limit  int
}

var (
	codeKeys    = []string{"code", "errno", "errcode", "error_code"}
	messageKeys = []string{"message", "msg", "error_description", "error", "errmsg", "error_msg"}
)

func decodeEnvelope(body []byte) (*Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	env := envelopeFromMap(fields)
	env.Data = raw["data"]
	return env, nil
}

func envelopeFromMap(fields map[string]any) *Envelope {
	env := &Envelope{Raw: fields}
	switch s := fields["state"].(type) {
	case bool:
		env.State = &s
	case float64:
		ok := s != 0
		env.State = &ok
	}
	env.Code, env.HasCode = lookupCode(fields)
	env.Message = lookupMessage(fields)
	return env
}

func lookupCode(fields map[string]any) (int64, bool) {
	for _, k := range codeKeys {
		if v, ok := fields[k]; ok {
			if n, ok := toInt64(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func lookupMessage(fields map[string]any) string {
	for _, k := range messageKeys {
		if s, ok := fields[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

package domain

import "encoding/json"

// ExecRequest is a task sent to the external executor.
type ExecRequest struct {
	Prompt    string
	Context   map[string]any
	SessionID string
}

// ExecResult is the executor's answer. Response is the "response" member of
// the executor envelope, already unwrapped from a JSON string when possible.
type ExecResult struct {
	Response  json.RawMessage
	SessionID string
}

// IsObject reports whether the response is a JSON object.
func (r ExecResult) IsObject() bool {
	for _, b := range r.Response {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

// Text returns the response as a plain string: the string value for JSON
// strings, the raw JSON otherwise.
func (r ExecResult) Text() string {
	var s string
	if err := json.Unmarshal(r.Response, &s); err == nil {
		return s
	}
	if string(r.Response) == "null" {
		return ""
	}
	return string(r.Response)
}

package models

import (
	"encoding/json"
	"time"
)

// ObservedResponse is an HTTP exchange seen by the browser whose URL matched
// an observed pattern. The body is decoded as JSON when possible and always
// kept as raw text.
type ObservedResponse struct {
	URL        string    `json:"url" yaml:"url"`
	Status     int       `json:"status" yaml:"status"`
	StatusText string    `json:"status_text,omitempty" yaml:"status_text,omitempty"`
	MIMEType   string    `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	IsJSON     bool      `json:"is_json" yaml:"is_json"`
	JSON       any       `json:"json,omitempty" yaml:"json,omitempty"`
	Text       string    `json:"text,omitempty" yaml:"text,omitempty"`
	BodyError  string    `json:"body_error,omitempty" yaml:"body_error,omitempty"`
	ReceivedAt time.Time `json:"received_at" yaml:"received_at"`
}

// DecodeBody fills the body fields. Bodies that are not valid JSON fall back
// to raw text.
func (r *ObservedResponse) DecodeBody(body []byte) {
	r.Text = string(body)
	r.IsJSON = false
	r.JSON = nil

	var decoded any
	if err := json.Unmarshal(body, &decoded); err == nil {
		r.IsJSON = true
		r.JSON = decoded
	}
}

// Body returns the decoded JSON value, or the raw text when the body was not JSON
func (r ObservedResponse) Body() any {
	if r.IsJSON {
		return r.JSON
	}
	return r.Text
}

package domain

import "encoding/json"

// Envelope is the uniform wrapper of every bank API response:
// {success: true, data} or {success: false, message}.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

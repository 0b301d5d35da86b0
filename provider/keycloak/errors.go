package keycloak

import (
	"encoding/json"
	"fmt"
)

// UpstreamError captures a failed Keycloak response.
type UpstreamError struct {
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
	Raw         map[string]any
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return "keycloak error"
	}

	scope := "keycloak"
	if e.Operation != "" {
		scope = "keycloak " + e.Operation
	}

	switch {
	case e.Description != "":
		return fmt.Sprintf("%s failed (%d): %s", scope, e.Status, e.Description)
	case e.Code != "":
		return fmt.Sprintf("%s failed (%d): %s", scope, e.Status, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return fmt.Sprintf("%s failed (%d)", scope, e.Status)
}

func (e *UpstreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StatusCode is the HTTP status Keycloak answered with, 0 on transport errors.
func (e *UpstreamError) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.Status
}

// UpstreamMessage is the most specific message Keycloak gave.
func (e *UpstreamError) UpstreamMessage() string {
	if e == nil {
		return ""
	}
	if e.Description != "" {
		return e.Description
	}
	return e.Code
}

func (e *UpstreamError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{"provider": "keycloak"}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	if len(e.Raw) > 0 {
		meta["raw"] = e.Raw
	}
	return meta
}

func upstreamError(op string, status int, code, description string, err error, raw map[string]any) *UpstreamError {
	return &UpstreamError{
		Operation:   op,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
		Raw:         raw,
	}
}

// parseError understands both the OAuth error body and the admin API
// errorMessage body.
func parseError(body []byte) (string, string, map[string]any) {
	if len(body) == 0 {
		return "", "", nil
	}

	raw := map[string]any{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", string(body), nil
	}

	code, _ := raw["error"].(string)
	description, _ := raw["error_description"].(string)
	if description == "" {
		description, _ = raw["errorMessage"].(string)
	}
	return code, description, raw
}

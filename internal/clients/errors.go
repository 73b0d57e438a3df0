package clients

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnauthorized marks a 401/403 from the upstream API. It is never retried:
// the caller must tear the session down and force re-authentication.
var ErrUnauthorized = errors.New("unauthorized")

// ServiceError is a structured upstream error carrying a localizable code.
// The UI renders the code through its string catalog, not the raw message.
type ServiceError struct {
	Code       string   `json:"code"`
	Args       []string `json:"args,omitempty"`
	HTTPStatus int      `json:"-"`
}

func (e *ServiceError) Error() string {
	if len(e.Args) > 0 {
		return fmt.Sprintf("service error %s %v", e.Code, e.Args)
	}
	return fmt.Sprintf("service error %s", e.Code)
}

// maxErrorDepth bounds the nested error/errors walk below.
const maxErrorDepth = 4

// ExtractErrorMessage walks nested "error"/"errors"/"message" fields of an
// upstream error payload up to a fixed depth and returns the innermost string,
// falling back to defaultMsg. Upstream errors do not arrive in one canonical
// shape, so this is best effort.
func ExtractErrorMessage(body []byte, defaultMsg string) string {
	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return defaultMsg
	}
	if msg := walkErrorPayload(payload, maxErrorDepth); msg != "" {
		return msg
	}
	return defaultMsg
}

func walkErrorPayload(payload interface{}, depth int) string {
	if depth < 0 {
		return ""
	}
	switch v := payload.(type) {
	case string:
		return v
	case map[string]interface{}:
		for _, field := range []string{"error", "errors", "message"} {
			if nested, ok := v[field]; ok {
				if msg := walkErrorPayload(nested, depth-1); msg != "" {
					return msg
				}
			}
		}
	case []interface{}:
		if len(v) > 0 {
			return walkErrorPayload(v[0], depth-1)
		}
	}
	return ""
}

// decodeServiceError turns a non-2xx upstream body into the richest error we
// can: a ServiceError when a code is present, otherwise a plain error with the
// extracted message.
func decodeServiceError(status int, body []byte) error {
	if status == 401 || status == 403 {
		return fmt.Errorf("%w: upstream returned %d", ErrUnauthorized, status)
	}

	var svcErr struct {
		Code string   `json:"code"`
		Args []string `json:"args"`
	}
	if err := json.Unmarshal(body, &svcErr); err == nil && svcErr.Code != "" {
		return &ServiceError{Code: svcErr.Code, Args: svcErr.Args, HTTPStatus: status}
	}

	return fmt.Errorf("upstream error (%d): %s", status, ExtractErrorMessage(body, "request failed"))
}

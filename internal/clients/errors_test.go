package clients

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"flat error string", `{"error":"insufficient funds"}`, "insufficient funds"},
		{"nested error", `{"error":{"message":"rate limited"}}`, "rate limited"},
		{"errors array", `{"errors":[{"message":"bad filter"}]}`, "bad filter"},
		{"deeply nested", `{"error":{"error":{"error":"root cause"}}}`, "root cause"},
		{"message field", `{"message":"plain message"}`, "plain message"},
		{"not json", `<html>gateway timeout</html>`, "fallback"},
		{"empty object", `{}`, "fallback"},
		{"too deep stops at fixed depth", `{"error":{"error":{"error":{"error":{"error":{"error":"buried"}}}}}}`, "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractErrorMessage([]byte(tt.body), "fallback"))
		})
	}
}

func TestDecodeServiceError(t *testing.T) {
	// 401/403 are the distinguished unauthorized kind, forcing session teardown.
	err := decodeServiceError(401, []byte(`{"error":"expired"}`))
	assert.ErrorIs(t, err, ErrUnauthorized)
	err = decodeServiceError(403, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// A structured code becomes a ServiceError surfaced via the code.
	err = decodeServiceError(422, []byte(`{"code":"WITHDRAW_LIMIT_EXCEEDED","args":["100"]}`))
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, "WITHDRAW_LIMIT_EXCEEDED", svcErr.Code)
	assert.Equal(t, []string{"100"}, svcErr.Args)
	assert.Equal(t, 422, svcErr.HTTPStatus)

	// Anything else falls back to best-effort message extraction.
	err = decodeServiceError(500, []byte(`{"error":{"message":"db down"}}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "db down")
}

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc123", "abc123", false},
		{"trims whitespace", "Bearer  abc123 ", "abc123", false},
		{"missing header", "", "", true},
		{"wrong scheme", "Basic abc123", "", true},
		{"empty token", "Bearer   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			token, err := ExtractBearer(req)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, token)
		})
	}
}

func TestValidToken(t *testing.T) {
	accepted := []string{"alpha", "beta"}

	assert.True(t, ValidToken("alpha", accepted))
	assert.True(t, ValidToken("beta", accepted))
	assert.False(t, ValidToken("gamma", accepted))
	assert.False(t, ValidToken("alph", accepted))
	assert.False(t, ValidToken("", accepted))
	assert.False(t, ValidToken("alpha", nil))
}

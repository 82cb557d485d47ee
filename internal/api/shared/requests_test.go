package shared

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decodeTarget struct {
	Name string `json:"name" validate:"required"`
	Age  int    `json:"age"  validate:"gte=18"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		errContains string
	}{
		{name: "valid json", body: `{"name": "test", "age": 30}`},
		{name: "trailing comma", body: `{"name": "test", "age": 30,}`, errContains: "invalid character"},
		{name: "empty body", body: "", errContains: "EOF"},
		{name: "unknown field", body: `{"name": "test", "extra": 1}`, errContains: "unknown field"},
		{name: "trailing data", body: `{"name": "test"} {"name": "again"}`, errContains: "unexpected data"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tc.body))
			var target decodeTarget
			err := DecodeJSON(req, &target)
			if tc.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, decodeTarget{Name: "test", Age: 30}, target)
		})
	}
}

type errorReader struct{}

func (errorReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestDecodeJSONWithReadError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", errorReader{})
	var target decodeTarget
	assert.ErrorIs(t, DecodeJSON(req, &target), io.ErrUnexpectedEOF)
}

type selfValidating struct {
	Name string
}

func (s *selfValidating) Validate() error {
	if s.Name == "invalid" {
		return errors.New("name is invalid")
	}
	return nil
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(&decodeTarget{Name: "a", Age: 20}))
	assert.Error(t, ValidateRequest(&decodeTarget{Age: 20}))
	assert.Error(t, ValidateRequest(&decodeTarget{Name: "a", Age: 3}))

	assert.NoError(t, ValidateRequest(&selfValidating{Name: "ok"}))
	assert.Error(t, ValidateRequest(&selfValidating{Name: "invalid"}))
}

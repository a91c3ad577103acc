package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	type body struct {
		Permissions []string `json:"permissions"`
	}

	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{"valid JSON", `{"permissions": ["jobs.view"]}`, false},
		{"invalid JSON", `{invalid}`, true},
		{"unknown field", `{"permissions": [], "extra": 1}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest body

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, []string{"jobs.view"}, dest.Permissions)
			}
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(`{invalid}`))
	w := httptest.NewRecorder()
	var dest map[string]string

	ok := ParseJSONOrError(w, req, &dest)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathInt64OrError(t *testing.T) {
	tests := []struct {
		name     string
		vars     map[string]string
		expectOK bool
		expected int64
	}{
		{"valid", map[string]string{"id": "42"}, true, 42},
		{"missing", map[string]string{}, false, 0},
		{"not a number", map[string]string{"id": "abc"}, false, 0},
		{"zero", map[string]string{"id": "0"}, false, 0},
		{"negative", map[string]string{"id": "-3"}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mux.SetURLVars(httptest.NewRequest("GET", "/test", nil), tt.vars)
			w := httptest.NewRecorder()

			val, ok := ParsePathInt64OrError(w, req, "id")

			assert.Equal(t, tt.expectOK, ok)
			assert.Equal(t, tt.expected, val)
			if !tt.expectOK {
				assert.Equal(t, http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestParsePathStringOrError(t *testing.T) {
	req := mux.SetURLVars(httptest.NewRequest("GET", "/test", nil), map[string]string{"role": "admin"})
	w := httptest.NewRecorder()

	val, ok := ParsePathStringOrError(w, req, "role")
	assert.True(t, ok)
	assert.Equal(t, "admin", val)

	_, ok = ParsePathStringOrError(w, httptest.NewRequest("GET", "/test", nil), "role")
	assert.False(t, ok)
}

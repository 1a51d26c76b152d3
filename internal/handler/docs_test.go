package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocsHandler_Spec(t *testing.T) {
	h, err := NewDocsHandler(OpenAPISpec, "/docs/openapi.yaml")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Spec(rec, httptest.NewRequest(http.MethodGet, "/docs/openapi.yaml", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	body := rec.Body.String()
	for _, path := range []string{
		"/api/v1/checkout/{session}/payments:",
		"/api/v1/checkout/{session}/payments/current/cancel:",
		"/api/v1/checkout/{session}/payments/current/check:",
		"/api/v1/webhooks/mobile-money:",
	} {
		assert.Contains(t, body, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/docs/openapi.yaml", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h.Spec(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestDocsHandler_UIPointsAtSpec(t *testing.T) {
	h, err := NewDocsHandler(OpenAPISpec, "/docs/openapi.yaml")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.UI(rec, httptest.NewRequest(http.MethodGet, "/docs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Regexp(t, `url: "\\?/docs\\?/openapi\.yaml"`, rec.Body.String())
}

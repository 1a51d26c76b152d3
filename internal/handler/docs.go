package handler

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"html/template"
	"net/http"
	"time"
)

//go:embed openapi.yaml
var OpenAPISpec []byte

// DocsHandler serves the embedded OpenAPI document and a Swagger UI page
// that loads it from SpecPath.
type DocsHandler struct {
	spec     []byte
	etag     string
	specPath string
	page     []byte
}

func NewDocsHandler(spec []byte, specPath string) (*DocsHandler, error) {
	sum := sha256.Sum256(spec)

	var page bytes.Buffer
	if err := docsPage.Execute(&page, struct{ SpecURL string }{specPath}); err != nil {
		return nil, err
	}

	return &DocsHandler{
		spec:     spec,
		etag:     `"` + hex.EncodeToString(sum[:8]) + `"`,
		specPath: specPath,
		page:     page.Bytes(),
	}, nil
}

func (h *DocsHandler) Spec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("ETag", h.etag)
	http.ServeContent(w, r, "openapi.yaml", time.Time{}, bytes.NewReader(h.spec))
}

func (h *DocsHandler) UI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(h.page)
}

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Samaki Checkout API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = () => SwaggerUIBundle({
      url: {{.SpecURL}},
      dom_id: "#swagger-ui",
      deepLinking: true,
      persistAuthorization: true
    });
  </script>
</body>
</html>
`))

// Package api содержит OpenAPI-описание HTTP API, отдаваемое Swagger UI.
package api

import _ "embed"

//go:embed openapi.json
var OpenAPISpec []byte

// Package api holds the OpenAPI description served at /openapi.yaml.
package api

import "embed"

//go:embed openapi.yaml
var FS embed.FS

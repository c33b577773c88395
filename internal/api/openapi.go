package api

import (
	"net/http"
	"strings"

	"github.com/mattjoyce/wayguard/internal/auth"
)

// route describes one admin endpoint for the OpenAPI document.
type route struct {
	method  string
	path    string
	summary string
	scope   string
	body    string
	codes   []string
}

var routes = []route{
	{method: http.MethodGet, path: "/healthz", summary: "Liveness and counts", codes: []string{"200", "503"}},
	{method: http.MethodGet, path: "/grants", summary: "List live grants", scope: auth.ScopeGrantsRead, codes: []string{"200"}},
	{method: http.MethodPost, path: "/grants", summary: "Create a grant and run its command", scope: auth.ScopeGrantsWrite, body: "CreateGrantRequest", codes: []string{"201", "400", "429", "502"}},
	{method: http.MethodDelete, path: "/grants/{id}", summary: "Revoke a grant and close its connection", scope: auth.ScopeGrantsWrite, codes: []string{"204", "404"}},
	{method: http.MethodGet, path: "/grants/{id}/log", summary: "Audit log of a grant", scope: auth.ScopeGrantsRead, codes: []string{"200", "404"}},
	{method: http.MethodGet, path: "/keybindings", summary: "List keybinding registrations", scope: auth.ScopeKeybindings, codes: []string{"200", "404"}},
	{method: http.MethodPost, path: "/keys", summary: "Inject a key through the keybinding path", scope: auth.ScopeInput, body: "InjectKeyRequest", codes: []string{"200", "400"}},
	{method: http.MethodGet, path: "/events", summary: "Server-sent grant and keybinding events", scope: auth.ScopeEventsRead, codes: []string{"200"}},
}

var requestSchemas = map[string]any{
	"CreateGrantRequest": map[string]any{
		"type":     "object",
		"required": []string{"command", "permissions"},
		"properties": map[string]any{
			"name":        map[string]any{"type": "string"},
			"command":     map[string]any{"type": "string"},
			"permissions": map[string]any{"type": "array", "items": map[string]any{"type": "string", "enum": []string{"keybindings"}}},
		},
	},
	"InjectKeyRequest": map[string]any{
		"type":     "object",
		"required": []string{"key"},
		"properties": map[string]any{
			"key":   map[string]any{"type": "integer", "maximum": 0xffffff},
			"mods":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"mask":  map[string]any{"type": "integer"},
			"state": map[string]any{"type": "string", "enum": []string{"pressed", "released"}},
			"time":  map[string]any{"type": "integer"},
		},
	},
}

var statusText = map[string]string{
	"200": "OK",
	"201": "Created",
	"204": "No content",
	"400": "Bad request",
	"401": "Missing or invalid token",
	"403": "Insufficient scope",
	"404": "Not found",
	"429": "Grant limit reached",
	"502": "Spawn failed",
	"503": "Compositor unavailable",
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the admin API.
func buildOpenAPIDoc() map[string]any {
	paths := map[string]any{}
	for _, rt := range routes {
		item, _ := paths[rt.path].(map[string]any)
		if item == nil {
			item = map[string]any{}
			paths[rt.path] = item
		}
		item[strings.ToLower(rt.method)] = buildOperation(rt)
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "wayguard admin API",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"schemas": requestSchemas,
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func buildOperation(rt route) map[string]any {
	responses := map[string]any{}
	codes := rt.codes
	if rt.scope != "" {
		codes = append(codes[:len(codes):len(codes)], "401", "403")
	}
	for _, c := range codes {
		responses[c] = map[string]any{"description": statusText[c]}
	}

	op := map[string]any{
		"summary":   rt.summary,
		"responses": responses,
	}
	if rt.scope != "" {
		op["security"] = []any{map[string]any{"BearerAuth": []string{}}}
		op["x-required-scope"] = rt.scope
	}
	if rt.body != "" {
		op["requestBody"] = map[string]any{
			"required": true,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": "#/components/schemas/" + rt.body},
				},
			},
		}
	}
	return op
}

// handleOpenAPI handles GET /openapi.json (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}

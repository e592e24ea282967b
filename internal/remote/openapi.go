package remote

import "net/http"

// openapiDocument is the static schema served at /openapi.json. It is kept
// small on purpose: enough for clients to introspect routes and payload
// shapes without a codegen toolchain.
const openapiDocument = `{
  "openapi": "3.0.3",
  "info": {"title": "crawld fetch worker", "version": "4"},
  "paths": {
    "/meta": {
      "get": {
        "summary": "Protocol version and capability handshake",
        "responses": {"200": {"description": "MetaResponse", "content": {"application/json": {"schema": {"$ref": "#/components/schemas/MetaResponse"}}}}}
      }
    },
    "/health": {
      "get": {
        "summary": "Liveness probe",
        "responses": {"200": {"description": "HealthResponse", "content": {"application/json": {"schema": {"$ref": "#/components/schemas/HealthResponse"}}}}}
      }
    },
    "/batch": {
      "post": {
        "summary": "Fetch a batch of URLs",
        "requestBody": {"content": {"application/json": {"schema": {"$ref": "#/components/schemas/BatchRequest"}}}},
        "responses": {"200": {"description": "BatchResponse", "headers": {"x-worker-api-version": {"schema": {"type": "integer"}}}, "content": {"application/json": {"schema": {"$ref": "#/components/schemas/BatchResponse"}}}}}
      }
    }
  },
  "components": {
    "schemas": {
      "MetaResponse": {"type": "object", "properties": {"apiVersion": {"type": "integer"}, "capabilities": {"type": "object", "properties": {"includeBody": {"type": "boolean"}, "compression": {"type": "boolean"}}}}},
      "HealthResponse": {"type": "object", "properties": {"ok": {"type": "boolean"}, "apiVersion": {"type": "integer"}}},
      "BatchRequest": {"type": "object", "properties": {"requests": {"type": "array", "items": {"type": "object", "properties": {"url": {"type": "string"}, "method": {"type": "string"}, "headers": {"type": "object"}}}}, "includeBody": {"type": "boolean"}}},
      "BatchResponse": {"type": "object", "properties": {"summary": {"type": "object", "properties": {"apiVersion": {"type": "integer"}, "count": {"type": "integer"}}}, "results": {"type": "array", "items": {"type": "object", "properties": {"url": {"type": "string"}, "statusCode": {"type": "integer"}, "bodyBase64": {"type": "string"}, "error": {"type": "string"}}}}}}
    }
  }
}`

func (s *Server) openapi(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write([]byte(openapiDocument)); err != nil {
		s.logger.Error("write openapi document failed")
	}
}

// Package docs registers the OpenAPI document served at /swagger/*any.
//
// Regenerate with:
//
//	swag init -g cmd/server/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/responses": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Responses"],
                "summary": "Fetch the live draft",
                "operationId": "getDraft",
                "parameters": [
                    {"type": "string", "description": "Questionnaire ID", "name": "questionnaire_id", "in": "query", "required": true},
                    {"type": "string", "description": "Session respondent ID", "name": "respondent_id", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.DraftView"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Responses"],
                "summary": "Submit the final response",
                "operationId": "submitResponse",
                "parameters": [
                    {"type": "string", "description": "Client retry key", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Final payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ResponseRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Response"}},
                    "400": {"description": "Bad request or nothing to save", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Already submitted", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "413": {"description": "Body too large", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "patch": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Responses"],
                "summary": "Save draft answers",
                "operationId": "saveDraft",
                "parameters": [
                    {"description": "Draft payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ResponseRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SaveResponse"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.SaveResponse"}},
                    "400": {"description": "Bad request or nothing to save", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "413": {"description": "Body too large", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/questionnaires/{id}/responses": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Questionnaires"],
                "summary": "List submissions (paginated)",
                "operationId": "listSubmissions",
                "parameters": [
                    {"type": "string", "description": "Questionnaire ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"},
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListSubmissionsResponse"}, "headers": {"ETag": {"type": "string", "description": "Weak ETag for current result"}}},
                    "304": {"description": "Not Modified", "schema": {"type": "string"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.Response": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "questionnaire_id": {"type": "string"},
                "respondent_id": {"type": "string"},
                "answers": {"type": "object"},
                "status": {"type": "string", "enum": ["in-progress", "submitted"]},
                "last_saved_at": {"type": "string"},
                "submitted_at": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "handlers.DraftView": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "example": "141add05-4415-4938-b5a1-17e0d3171aff"},
                "answers": {"type": "object"},
                "last_saved_at": {"type": "string"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"},
                "code": {"type": "string", "example": "nothing_to_save"},
                "message": {"type": "string", "example": "no answers to save"}
            }
        },
        "handlers.ListSubmissionsResponse": {
            "type": "object",
            "properties": {
                "responses": {"type": "array", "items": {"$ref": "#/definitions/domain.Response"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"},
                "has_next": {"type": "boolean"}
            }
        },
        "handlers.ResponseRequest": {
            "type": "object",
            "properties": {
                "questionnaire_id": {"type": "string", "example": "onboarding-2024"},
                "respondent_id": {"type": "string", "example": "7f0e3c1a-2b55-4f6e-9d0a-3a8c1f5e2b10"},
                "answers": {"type": "object"}
            }
        },
        "handlers.SaveResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "message": {"type": "string", "example": "Progress saved"},
                "saved_at": {"type": "string"},
                "applied": {"type": "boolean", "example": true},
                "outcome": {"type": "string", "enum": ["updated", "inserted", "race_lost"]}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Draftsync API",
	Description:      "Collaborative draft autosave and final submission for questionnaire responses.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

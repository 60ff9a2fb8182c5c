package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "FileVault API",
        "description": "Multi-tenant file storage with a three-tier quota ledger",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Uploads", "description": "Presigned init, finalize and abort"},
        {"name": "Files", "description": "Listing, downloads and deletion"},
        {"name": "Quota", "description": "Caller quota snapshot and history"},
        {"name": "Companies", "description": "Tenant pools and member allocations"},
        {"name": "Admin", "description": "Reconciliation sweeper"},
        {"name": "Authentication", "description": "Caller identity"}
    ],
    "paths": {
        "/uploads": {
            "post": {
                "tags": ["Uploads"],
                "summary": "Start an upload",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/InitUploadRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "413": {"description": "Quota exceeded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/uploads/{id}/finalize": {
            "post": {
                "tags": ["Uploads"],
                "summary": "Finalize an upload",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/FinalizeUploadRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Object missing or already finalized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "410": {"description": "Upload session expired", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "413": {"description": "Quota exceeded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Size mismatch", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/uploads/{id}/abort": {
            "post": {
                "tags": ["Uploads"],
                "summary": "Abort a pending upload",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/files": {
            "get": {
                "tags": ["Files"],
                "summary": "List files",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "mimetype", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/files/{id}/download": {
            "get": {
                "tags": ["Files"],
                "summary": "Presigned download URL",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "attachment", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/files/{id}": {
            "delete": {
                "tags": ["Files"],
                "summary": "Delete a file",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/quota": {
            "get": {
                "tags": ["Quota"],
                "summary": "Quota snapshot",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/quota/history": {
            "get": {
                "tags": ["Quota"],
                "summary": "Daily usage history",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/companies/{id}": {
            "get": {
                "tags": ["Companies"],
                "summary": "Company storage overview",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "delete": {
                "tags": ["Companies"],
                "summary": "Delete a company",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/companies/{id}/storage": {
            "put": {
                "tags": ["Companies"],
                "summary": "Change company total storage",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetCompanyStorageRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Below allocated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/companies/{id}/fix-allocations": {
            "post": {
                "tags": ["Companies"],
                "summary": "Recompute company counters",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/companies/{id}/usage-report": {
            "get": {
                "tags": ["Companies"],
                "summary": "Export member usage",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {"200": {"description": "Report file", "schema": {"type": "file"}}}
            }
        },
        "/users/{id}/allocation": {
            "put": {
                "tags": ["Companies"],
                "summary": "Allocate storage to a member",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetUserAllocationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Insufficient admin capacity", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/companies/{id}/members": {
            "get": {
                "tags": ["Companies"],
                "summary": "List company members",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "role", "in": "query", "type": "string", "enum": ["admin", "user"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Companies"],
                "summary": "Add a company member",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AddMemberRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Email taken", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/companies": {
            "post": {
                "tags": ["Admin"],
                "summary": "Provision a company",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ProvisionCompanyRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Name or email taken", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/sweeper/run": {
            "post": {
                "tags": ["Admin"],
                "summary": "Trigger a sweep",
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/sweeper/last": {
            "get": {
                "tags": ["Admin"],
                "summary": "Last sweep report",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/auth/dev-token": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Issue a development token",
                "security": [],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"type": "object", "properties": {"email": {"type": "string"}}}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Get current caller",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        }
    },
    "definitions": {
        "InitUploadRequest": {
            "type": "object",
            "required": ["filename", "size", "mimetype"],
            "properties": {
                "filename": {"type": "string"},
                "size": {"type": "integer", "format": "int64"},
                "mimetype": {"type": "string"}
            }
        },
        "CompletedPart": {
            "type": "object",
            "properties": {
                "partNumber": {"type": "integer"},
                "etag": {"type": "string"}
            }
        },
        "FinalizeUploadRequest": {
            "type": "object",
            "properties": {
                "parts": {"type": "array", "items": {"$ref": "#/definitions/CompletedPart"}}
            }
        },
        "SetCompanyStorageRequest": {
            "type": "object",
            "required": ["totalStorage"],
            "properties": {"totalStorage": {"type": "integer", "format": "int64"}}
        },
        "SetUserAllocationRequest": {
            "type": "object",
            "properties": {"bytes": {"type": "integer", "format": "int64"}}
        },
        "ProvisionCompanyRequest": {
            "type": "object",
            "required": ["name", "totalStorage", "ownerEmail"],
            "properties": {
                "name": {"type": "string"},
                "totalStorage": {"type": "integer", "format": "int64", "minimum": 104857600},
                "ownerEmail": {"type": "string"},
                "ownerName": {"type": "string"},
                "plan": {"type": "string", "enum": ["free", "pro"]}
            }
        },
        "AddMemberRequest": {
            "type": "object",
            "required": ["email"],
            "properties": {
                "email": {"type": "string"},
                "fullName": {"type": "string"},
                "plan": {"type": "string", "enum": ["free", "pro"]}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

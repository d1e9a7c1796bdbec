// Package docs is generated by swaggo/swag from the handler annotations.
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
        "/accounts": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["accounts"],
                "summary": "Create account",
                "parameters": [
                    {
                        "description": "Optional account id",
                        "name": "request",
                        "in": "body",
                        "schema": {"$ref": "#/definitions/handlers.CreateAccountRequest"}
                    }
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.Account"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/accounts/{accountId}/balance": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["accounts"],
                "summary": "Balance enquiry",
                "parameters": [
                    {"type": "string", "description": "Account ID", "name": "accountId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.BalanceResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/accounts/{accountId}/transactions": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Apply a transaction to an account. Resubmitting a committed id returns the original record with status 200.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["transactions"],
                "summary": "Submit transaction",
                "parameters": [
                    {"type": "string", "description": "Account ID", "name": "accountId", "in": "path", "required": true},
                    {
                        "description": "Transaction",
                        "name": "transaction",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/models.TransactionInput"}
                    }
                ],
                "responses": {
                    "200": {"description": "Idempotent replay", "schema": {"$ref": "#/definitions/models.Transaction"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.Transaction"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "409": {"description": "Transient conflict, retry with the same id", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Blacklist the bearer token until it expires",
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Logout",
                "responses": {
                    "200": {"description": "Logout successful", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/transactions": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["transactions"],
                "summary": "List transactions",
                "parameters": [
                    {"type": "string", "description": "Filter by account ID", "name": "accountId", "in": "query"},
                    {"type": "integer", "description": "Page number (default: 1, max: 1000000)", "name": "page", "in": "query"},
                    {"type": "integer", "description": "Page size (default: 10, max: 100)", "name": "limit", "in": "query"},
                    {"enum": ["id", "createdAt", "amount", "type", "accountId"], "type": "string", "description": "Sort attribute", "name": "sort", "in": "query"},
                    {"enum": ["ASC", "DESC"], "type": "string", "description": "Sort order", "name": "order", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Page"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/transactions/my": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["transactions"],
                "summary": "List my transactions",
                "parameters": [
                    {"type": "integer", "description": "Page number (default: 1, max: 1000000)", "name": "page", "in": "query"},
                    {"type": "integer", "description": "Page size (default: 10, max: 100)", "name": "limit", "in": "query"},
                    {"enum": ["id", "createdAt", "amount", "type", "accountId"], "type": "string", "description": "Sort attribute", "name": "sort", "in": "query"},
                    {"enum": ["ASC", "DESC"], "type": "string", "description": "Sort order", "name": "order", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Page"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/transactions/{txId}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["transactions"],
                "summary": "Get transaction",
                "parameters": [
                    {"type": "string", "description": "Transaction ID", "name": "txId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Transaction"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.BalanceResponse": {
            "type": "object",
            "properties": {
                "accountId": {"type": "string"},
                "balance": {"type": "string", "example": "250.50"}
            }
        },
        "handlers.CreateAccountRequest": {
            "type": "object",
            "properties": {
                "id": {"description": "Generated when empty", "type": "string", "example": "acc-1"}
            }
        },
        "models.Account": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "balance": {"type": "string"},
                "version": {"type": "integer"},
                "createdAt": {"type": "string"},
                "updatedAt": {"type": "string"}
            }
        },
        "models.Page": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/models.Transaction"}},
                "pagination": {"$ref": "#/definitions/models.Pagination"}
            }
        },
        "models.Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "limit": {"type": "integer"},
                "total": {"type": "integer"},
                "totalPages": {"type": "integer"}
            }
        },
        "models.Transaction": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "accountId": {"type": "string"},
                "amount": {"type": "string", "example": "75.50"},
                "type": {"type": "string", "enum": ["deposit", "withdrawal", "reversal"]},
                "status": {"type": "string", "enum": ["completed"]},
                "reversalOf": {"type": "string"},
                "description": {"type": "string"},
                "createdAt": {"type": "string"}
            }
        },
        "models.TransactionInput": {
            "type": "object",
            "required": ["amount", "type"],
            "properties": {
                "id": {"description": "Client supplied UUIDv4, doubles as the idempotency key", "type": "string"},
                "amount": {"type": "string", "example": "75.50"},
                "type": {"type": "string", "enum": ["deposit", "withdrawal", "reversal"]},
                "description": {"type": "string", "maxLength": 500},
                "reversalOf": {"description": "Required for reversals", "type": "string"}
            }
        },
        "services.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"description": "Error message", "type": "string"},
                "details": {"description": "Validation details", "type": "object", "additionalProperties": {"type": "string"}},
                "retryable": {"description": "Safe to resubmit with the same transaction id", "type": "boolean"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Ledger API",
	Description:      "Transactional ledger: deposits, withdrawals and reversals with idempotent submission",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

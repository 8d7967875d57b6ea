// Package docs holds the OpenAPI document served under /api/swagger. It is
// kept in step with the swag annotations on the handlers.
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
        "/chat/conversations": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "List conversations",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/models.ConversationSummary"}}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/chat/conversations/{id}/messages": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "List messages",
                "description": "Returns a window of history, oldest first.",
                "parameters": [
                    {"type": "string", "description": "Conversation ID", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "description": "Page size", "name": "limit", "in": "query"},
                    {"type": "string", "description": "RFC3339 cursor", "name": "before", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/models.Message"}}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Send a message",
                "parameters": [
                    {"type": "string", "description": "Conversation ID", "name": "id", "in": "path", "required": true},
                    {"description": "Message", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/server.SendMessageRequest"}}
                ],
                "responses": {
                    "200": {"description": "Replayed", "schema": {"$ref": "#/definitions/models.Message"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.Message"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/chat/with/{otherUserId}": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Open a direct conversation",
                "parameters": [
                    {"type": "string", "description": "Peer user ID", "name": "otherUserId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.ConversationSummary"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.ConversationSummary"}}
                }
            }
        },
        "/ws/ticket": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["websocket"],
                "summary": "Issue a single-use websocket ticket",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "models.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "details": {"type": "string"},
                "error": {"type": "string"}
            }
        },
        "models.ConversationSummary": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "type": {"type": "string"},
                "title": {"type": "string"},
                "unreadCount": {"type": "integer"},
                "lastMessageAt": {"type": "string"}
            }
        },
        "models.Message": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "conversationId": {"type": "string"},
                "senderId": {"type": "string"},
                "text": {"type": "string"},
                "createdAt": {"type": "string"}
            }
        },
        "server.SendMessageRequest": {
            "type": "object",
            "properties": {
                "clientMessageId": {"type": "string"},
                "conversationId": {"type": "string"},
                "otherUserId": {"type": "string"},
                "text": {"type": "string"},
                "type": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and JWT token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8375",
	BasePath:         "/api",
	Schemes:          []string{"http", "https"},
	Title:            "LingoChat API",
	Description:      "Realtime chat gateway: conversations, messages, members and presence",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// Package docs registers the OpenAPI document served under /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/v1/communities/{communityID}/plans": {
            "get": {"tags": ["plans"], "summary": "List a community's active plans", "parameters": [{"name": "communityID", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["plans"], "summary": "Create a plan", "parameters": [{"name": "communityID", "in": "path", "required": true, "type": "string"}, {"name": "plan", "in": "body", "required": true, "schema": {"type": "object"}}], "responses": {"201": {"description": "Created"}, "400": {"description": "Invalid plan"}}}
        },
        "/v1/plans/{id}": {
            "get": {"tags": ["plans"], "summary": "Get a plan", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Plan not found"}}},
            "patch": {"tags": ["plans"], "summary": "Edit a plan; live subscriptions keep their price", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}, {"name": "patch", "in": "body", "required": true, "schema": {"type": "object"}}], "responses": {"200": {"description": "OK"}}}
        },
        "/v1/communities/{communityID}/subscriptions": {
            "post": {"tags": ["subscriptions"], "summary": "Subscribe the caller to a plan", "parameters": [{"name": "communityID", "in": "path", "required": true, "type": "string"}, {"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}], "responses": {"201": {"description": "Created"}, "402": {"description": "Payment declined"}, "404": {"description": "Plan not found"}, "409": {"description": "Live subscription exists"}, "422": {"description": "Invalid coupon"}, "503": {"description": "Processor unavailable"}}}
        },
        "/v1/communities/{communityID}/subscription": {
            "get": {"tags": ["subscriptions"], "summary": "Caller's subscription status", "parameters": [{"name": "communityID", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "No subscription"}}}
        },
        "/v1/communities/{communityID}/access": {
            "get": {"tags": ["subscriptions"], "summary": "Whether the caller has access", "parameters": [{"name": "communityID", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}}
        },
        "/v1/subscriptions/{id}/cancel": {
            "post": {"tags": ["subscriptions"], "summary": "Cancel immediately", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "409": {"description": "Already terminal"}}}
        },
        "/v1/subscriptions/{id}/payments": {
            "get": {"tags": ["subscriptions"], "summary": "Payment history, newest first", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}}
        },
        "/v1/admin/renewals/run": {
            "post": {"tags": ["admin"], "summary": "Run a renewal batch now", "responses": {"200": {"description": "OK"}, "409": {"description": "Run in progress"}}}
        },
        "/v1/admin/renewals/jobs": {
            "get": {"tags": ["admin"], "summary": "Scheduler state and recent reports", "parameters": [{"name": "limit", "in": "query", "type": "integer"}], "responses": {"200": {"description": "OK"}}}
        },
        "/v1/admin/scheduler/start": {"post": {"tags": ["admin"], "summary": "Start the renewal scheduler", "responses": {"200": {"description": "OK"}}}},
        "/v1/admin/scheduler/stop": {"post": {"tags": ["admin"], "summary": "Stop the renewal scheduler", "responses": {"200": {"description": "OK"}}}},
        "/v1/admin/sweeps/run": {"post": {"tags": ["admin"], "summary": "Expire overdue subscriptions now", "responses": {"200": {"description": "OK"}}}},
        "/webhooks/stripe": {"post": {"tags": ["webhooks"], "summary": "Stripe event delivery", "security": [], "responses": {"200": {"description": "OK"}, "400": {"description": "Invalid signature"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Member Billing API",
	Description:      "Subscription plans, member billing and renewals.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

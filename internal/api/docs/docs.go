// Package docs registers the OpenAPI document served at /swagger.
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
        "/price/{code}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["prices"],
                "summary": "Latest aggregate price",
                "parameters": [
                    {"type": "string", "description": "Currency code", "name": "code", "in": "path", "required": true},
                    {"enum": ["full"], "type": "string", "description": "Set to full to include used quotes", "name": "detail", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Latest aggregate", "schema": {"$ref": "#/definitions/api.AggregateResponse"}},
                    "400": {"description": "Invalid currency code format", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Unknown currency or no aggregate yet", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/price/{code}/{date_time}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["prices"],
                "summary": "Aggregate price at a point in time",
                "parameters": [
                    {"type": "string", "description": "Currency code", "name": "code", "in": "path", "required": true},
                    {"type": "string", "description": "RFC 3339 timestamp or unix seconds", "name": "date_time", "in": "path", "required": true},
                    {"enum": ["full"], "type": "string", "description": "Set to full to include used quotes", "name": "detail", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Nearest aggregate", "schema": {"$ref": "#/definitions/api.AggregateResponse"}},
                    "400": {"description": "Invalid currency code or timestamp", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Unknown currency or no aggregate", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/movement/{code}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["prices"],
                "summary": "Price movement",
                "parameters": [
                    {"type": "string", "description": "Currency code", "name": "code", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Movement", "schema": {"$ref": "#/definitions/api.MovementResponse"}},
                    "404": {"description": "Unknown currency or no aggregate yet", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/currencies": {
            "get": {
                "produces": ["application/json"],
                "tags": ["reference"],
                "summary": "Tracked currencies",
                "responses": {
                    "200": {"description": "Currencies", "schema": {"type": "array", "items": {"$ref": "#/definitions/api.CurrencyResponse"}}}
                }
            }
        },
        "/providers": {
            "get": {
                "produces": ["application/json"],
                "tags": ["reference"],
                "summary": "Configured providers",
                "responses": {
                    "200": {"description": "Providers", "schema": {"type": "array", "items": {"$ref": "#/definitions/api.ProviderResponse"}}}
                }
            }
        },
        "/provider/{provider}/price/{code}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["providers"],
                "summary": "Latest quote of one provider",
                "parameters": [
                    {"type": "string", "description": "Provider name", "name": "provider", "in": "path", "required": true},
                    {"type": "string", "description": "Currency code", "name": "code", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Latest quote", "schema": {"$ref": "#/definitions/api.QuoteResponse"}},
                    "404": {"description": "Unknown provider or currency, or no quote", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/provider/{provider}/price/{code}/{date_time}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["providers"],
                "summary": "Quote of one provider at a point in time",
                "parameters": [
                    {"type": "string", "description": "Provider name", "name": "provider", "in": "path", "required": true},
                    {"type": "string", "description": "Currency code", "name": "code", "in": "path", "required": true},
                    {"type": "string", "description": "RFC 3339 timestamp or unix seconds", "name": "date_time", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Nearest quote", "schema": {"$ref": "#/definitions/api.QuoteResponse"}},
                    "404": {"description": "Unknown provider or currency, or no quote", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/arbitrage/{code}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["prices"],
                "summary": "Recent arbitrage opportunities",
                "parameters": [
                    {"type": "string", "description": "Currency code", "name": "code", "in": "path", "required": true},
                    {"maximum": 200, "minimum": 1, "type": "integer", "default": 20, "description": "Maximum number of rows", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Opportunities, newest first", "schema": {"type": "array", "items": {"$ref": "#/definitions/api.ArbitrageResponse"}}},
                    "400": {"description": "Invalid currency code or limit", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/pipeline/run": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["pipeline"],
                "summary": "Trigger a pipeline pass",
                "parameters": [
                    {"description": "Pass options", "name": "request", "in": "body", "schema": {"$ref": "#/definitions/api.RunRequest"}}
                ],
                "responses": {
                    "202": {"description": "Pass enqueued", "schema": {"$ref": "#/definitions/api.RunResponse"}},
                    "400": {"description": "Invalid JSON", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/healthz": {
            "get": {
                "produces": ["text/plain"],
                "tags": ["health"],
                "summary": "Health check (liveness)",
                "responses": {"200": {"description": "OK", "schema": {"type": "string"}}}
            }
        },
        "/readyz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "All dependencies ready", "schema": {"$ref": "#/definitions/api.ReadyResponse"}},
                    "503": {"description": "At least one dependency unavailable", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.AggregateResponse": {
            "type": "object",
            "properties": {
                "currency": {"type": "string", "example": "BTC"},
                "currency_name": {"type": "string", "example": "Bitcoin"},
                "aggregation_time": {"type": "string", "example": "2024-03-01T12:00:00Z"},
                "price": {"type": "string", "example": "62011.48000000"},
                "sample_count": {"type": "integer", "example": 4},
                "standard_deviation": {"type": "number", "example": 12.5},
                "variance": {"type": "number", "example": 156.25},
                "moving_averages": {"type": "object", "additionalProperties": {"type": "string"}},
                "used_quotes": {"type": "array", "items": {"$ref": "#/definitions/api.QuoteResponse"}},
                "warning": {"type": "string", "example": "stale"}
            }
        },
        "api.QuoteResponse": {
            "type": "object",
            "properties": {
                "provider": {"type": "string", "example": "Bitstamp"},
                "currency": {"type": "string", "example": "BTC"},
                "usd_price": {"type": "string", "example": "62000.00000000"},
                "market_price": {"type": "string", "example": "0.00031000"},
                "volume": {"type": "string", "example": "125000.00000000"},
                "fetch_time": {"type": "string", "example": "2024-03-01T12:00:00Z"},
                "valid_until": {"type": "string", "example": "2024-03-01T12:05:00Z"},
                "moving_averages": {"type": "object", "additionalProperties": {"type": "string"}},
                "combined_responses": {"type": "array", "items": {"$ref": "#/definitions/api.QuoteResponse"}}
            }
        },
        "api.MovementResponse": {
            "type": "object",
            "properties": {
                "currency": {"type": "string", "example": "BTC"},
                "price": {"type": "string", "example": "62011.48000000"},
                "aggregation_time": {"type": "string", "example": "2024-03-01T12:00:00Z"},
                "movements": {"type": "array", "items": {"$ref": "#/definitions/api.MovementEntry"}}
            }
        },
        "api.MovementEntry": {
            "type": "object",
            "properties": {
                "days": {"type": "integer", "example": 7},
                "pct": {"type": "string", "example": "4.2100"},
                "past_price": {"type": "string", "example": "59506.00000000"},
                "past_time": {"type": "string", "example": "2024-02-23T12:00:00Z"}
            }
        },
        "api.CurrencyResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "BTC"},
                "name": {"type": "string", "example": "Bitcoin"},
                "min_providers": {"type": "integer", "example": 1},
                "max_std_dev": {"type": "number", "example": 0}
            }
        },
        "api.ProviderResponse": {
            "type": "object",
            "properties": {
                "name": {"type": "string", "example": "Bitstamp"},
                "cache_seconds": {"type": "integer", "example": 300},
                "active": {"type": "boolean", "example": true},
                "exchange_market": {"type": "boolean", "example": false},
                "parent": {"type": "string", "example": "Bittrex"},
                "last_failure": {"$ref": "#/definitions/api.FailureResponse"}
            }
        },
        "api.FailureResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string", "example": "bad status code: 503"},
                "time": {"type": "string", "example": "2024-03-01T11:55:00Z"}
            }
        },
        "api.ArbitrageResponse": {
            "type": "object",
            "properties": {
                "low_provider": {"type": "string", "example": "Bittrex_BTC_USDT_market"},
                "low_price": {"type": "string", "example": "61000.00000000"},
                "high_provider": {"type": "string", "example": "Bittrex_BTC_EUR_market"},
                "high_price": {"type": "string", "example": "62500.00000000"},
                "spread_pct": {"type": "string", "example": "2.4291"},
                "detected_at": {"type": "string", "example": "2024-03-01T12:00:00Z"}
            }
        },
        "api.RunRequest": {
            "type": "object",
            "properties": {"force": {"type": "boolean", "example": false}}
        },
        "api.RunResponse": {
            "type": "object",
            "properties": {"status": {"type": "string", "example": "accepted"}}
        },
        "api.ReadyResponse": {
            "type": "object",
            "properties": {"status": {"type": "string", "example": "ready"}}
        },
        "api.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string", "example": "invalid currency code format"}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Price Aggregator API",
	Description:      "Aggregated USD prices of fiat and crypto currencies collected from many providers.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// Package docs registers the OpenAPI document served under /swagger.
// Regenerate with: swag init -g cmd/simwatch-api/main.go -o cmd/simwatch-api/docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {
            "name": "Apache 2.0",
            "url": "http://www.apache.org/licenses/LICENSE-2.0.html"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/simulations": {
            "get": {
                "description": "List simulations, newest first, optionally filtered by centre, experiment, model and running state",
                "produces": ["application/json"],
                "tags": ["simulations"],
                "summary": "List simulations",
                "parameters": [
                    {"type": "string", "description": "Compute centre", "name": "centre", "in": "query"},
                    {"type": "string", "description": "Experiment", "name": "experiment", "in": "query"},
                    {"type": "string", "description": "Model", "name": "model", "in": "query"},
                    {"type": "boolean", "description": "Only running (true) or only finished (false) simulations", "name": "running", "in": "query"},
                    {"type": "integer", "description": "Page size (1-1000)", "name": "limit", "in": "query"},
                    {"type": "integer", "description": "Page offset", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.SimulationListResponse"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}},
                    "500": {"description": "Internal Server Error", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/simulations/{uid}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["simulations"],
                "summary": "Get a simulation",
                "parameters": [
                    {"type": "string", "description": "Simulation UID", "name": "uid", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.SimulationResponse"}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": true}},
                    "500": {"description": "Internal Server Error", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/simulations/{uid}/jobs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["simulations"],
                "summary": "List the jobs of a simulation",
                "parameters": [
                    {"type": "string", "description": "Simulation UID", "name": "uid", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.JobListResponse"}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": true}},
                    "500": {"description": "Internal Server Error", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/alerts": {
            "get": {
                "produces": ["application/json"],
                "tags": ["alerts"],
                "summary": "List recent alerts",
                "parameters": [
                    {"type": "integer", "description": "Maximum number of alerts (1-1000)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/api.AlertResponse"}}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}},
                    "500": {"description": "Internal Server Error", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/agents": {
            "get": {
                "produces": ["application/json"],
                "tags": ["agents"],
                "summary": "List MQ agents and the message types they handle",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/api.AgentResponse"}}}
                }
            }
        }
    },
    "definitions": {
        "api.AgentResponse": {
            "type": "object",
            "properties": {
                "description": {"type": "string"},
                "name": {"type": "string"},
                "queue": {"type": "string"},
                "types": {"type": "array", "items": {"type": "string"}}
            }
        },
        "api.AlertResponse": {
            "type": "object",
            "properties": {
                "created_at": {"type": "string"},
                "id": {"type": "integer"},
                "job_uid": {"type": "string"},
                "message_uid": {"type": "string"},
                "payload": {"type": "object"},
                "simulation_uid": {"type": "string"},
                "trigger": {"type": "string"}
            }
        },
        "api.JobListResponse": {
            "type": "object",
            "properties": {
                "items": {"type": "array", "items": {"$ref": "#/definitions/store.Job"}},
                "simulation_uid": {"type": "string"}
            }
        },
        "api.SimulationListResponse": {
            "type": "object",
            "properties": {
                "items": {"type": "array", "items": {"$ref": "#/definitions/api.SimulationResponse"}},
                "limit": {"type": "integer"},
                "offset": {"type": "integer"}
            }
        },
        "api.SimulationResponse": {
            "type": "object",
            "properties": {
                "accounting_project": {"type": "string"},
                "compute_centre": {"type": "string"},
                "compute_login": {"type": "string"},
                "compute_machine": {"type": "string"},
                "created_at": {"type": "string"},
                "execution_end_date": {"type": "string"},
                "execution_start_date": {"type": "string"},
                "experiment": {"type": "string"},
                "hashid": {"type": "string"},
                "is_error": {"type": "boolean"},
                "model": {"type": "string"},
                "name": {"type": "string"},
                "space": {"type": "string"},
                "status": {"type": "string", "enum": ["running", "complete", "error"]},
                "try_id": {"type": "integer"},
                "uid": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "store.Job": {
            "type": "object",
            "properties": {
                "created_at": {"type": "string"},
                "execution_end_date": {"type": "string"},
                "execution_start_date": {"type": "string"},
                "is_error": {"type": "boolean"},
                "is_late": {"type": "boolean"},
                "job_uid": {"type": "string"},
                "job_warning_delay": {"type": "integer"},
                "name": {"type": "string"},
                "simulation_uid": {"type": "string"},
                "typeof": {"type": "string", "enum": ["computing", "post-processing"]},
                "updated_at": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Simwatch Monitoring API",
	Description:      "Read API over simulations, jobs and alerts recorded by the simwatch MQ agents",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

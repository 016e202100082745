package sidecar

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Wire schemas for every payload crossing the sidecar boundary. Requests are
// validated before any network call; responses and stream events before they
// reach a caller.

const healthResponseSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"enum": ["healthy", "degraded", "unhealthy", "unknown"]},
    "version": {"type": "string"},
    "uptimeSeconds": {"type": "number", "minimum": 0},
    "dependencies": {"type": "object", "additionalProperties": {"type": "string"}},
    "timestamp": {"type": "string"}
  }
}`

const providerConfigSchema = `{
  "type": "object",
  "required": ["provider", "endpoint", "model"],
  "properties": {
    "provider": {"enum": ["azure-openai", "ollama"]},
    "endpoint": {"type": "string", "minLength": 1},
    "model": {"type": "string", "minLength": 1},
    "apiKey": {"type": "string"},
    "apiVersion": {"type": "string"},
    "temperature": {"type": "number", "minimum": 0, "maximum": 2},
    "maxTokens": {"type": "integer", "exclusiveMinimum": 0}
  }
}`

const generateEntityRequestSchema = `{
  "type": "object",
  "required": ["entityType", "userPrompt", "config"],
  "properties": {
    "entityType": {"enum": ["feature", "userstory", "spec", "task", "governance"]},
    "userPrompt": {"type": "string", "minLength": 10},
    "linkedFeatureId": {"type": "string"},
    "config": {"$ref": "provider-config.json"}
  }
}`

const generateEntityResponseSchema = `{
  "type": "object",
  "required": ["entity", "metadata"],
  "properties": {
    "entity": {"type": "object"},
    "metadata": {
      "type": "object",
      "required": ["promptTokens", "completionTokens", "durationMs", "model"],
      "properties": {
        "promptTokens": {"type": "integer", "minimum": 0},
        "completionTokens": {"type": "integer", "minimum": 0},
        "durationMs": {"type": "number", "minimum": 0},
        "model": {"type": "string"},
        "provider": {"type": "string"}
      }
    }
  }
}`

const assistStreamRequestSchema = `{
  "type": "object",
  "required": ["question", "config"],
  "properties": {
    "question": {"type": "string", "minLength": 1},
    "conversationHistory": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": {"enum": ["user", "assistant", "system"]},
          "content": {"type": "string"},
          "timestamp": {"type": "string"}
        }
      }
    },
    "contextSnapshot": {"type": "object"},
    "config": {"$ref": "provider-config.json"}
  }
}`

const streamEventSchema = `{
  "type": "object",
  "required": ["type"],
  "oneOf": [
    {
      "properties": {
        "type": {"const": "token"},
        "token": {"type": "string"},
        "metadata": {
          "type": "object",
          "properties": {"tokenIndex": {"type": "integer", "minimum": 0}}
        }
      },
      "required": ["type", "token"]
    },
    {
      "properties": {
        "type": {"const": "complete"},
        "fullContent": {"type": "string"},
        "metadata": {
          "type": "object",
          "required": ["totalTokens", "durationMs"],
          "properties": {
            "totalTokens": {"type": "integer", "minimum": 0},
            "durationMs": {"type": "number", "minimum": 0},
            "model": {"type": "string"}
          }
        }
      },
      "required": ["type", "fullContent", "metadata"]
    },
    {
      "properties": {
        "type": {"const": "error"},
        "message": {"type": "string"},
        "code": {"type": "string"}
      },
      "required": ["type", "message"]
    }
  ]
}`

const toolExecutionRequestSchema = `{
  "type": "object",
  "required": ["toolId", "parameters", "repoPath", "config"],
  "properties": {
    "toolId": {"type": "string", "minLength": 1},
    "parameters": {"type": "object"},
    "repoPath": {"type": "string"},
    "config": {"$ref": "provider-config.json"}
  }
}`

const toolExecutionResponseSchema = `{
  "type": "object",
  "required": ["metadata"],
  "properties": {
    "result": {"type": ["object", "null"]},
    "error": {"type": ["string", "null"]},
    "metadata": {
      "type": "object",
      "required": ["durationMs", "toolId"],
      "properties": {
        "durationMs": {"type": "number", "minimum": 0},
        "toolId": {"type": "string"}
      }
    }
  }
}`

const ragQueryRequestSchema = `{
  "type": "object",
  "required": ["query", "repoPath", "config"],
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "repoPath": {"type": "string"},
    "topK": {"type": "integer", "exclusiveMinimum": 0},
    "entityTypes": {"type": "array", "items": {"type": "string"}},
    "config": {"$ref": "provider-config.json"}
  }
}`

const ragQueryResponseSchema = `{
  "type": "object",
  "required": ["answer", "sources", "metadata"],
  "properties": {
    "answer": {"type": "string"},
    "sources": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["entityId", "entityType", "relevanceScore", "excerpt"],
        "properties": {
          "entityId": {"type": "string"},
          "entityType": {"type": "string"},
          "relevanceScore": {"type": "number", "minimum": 0, "maximum": 1},
          "excerpt": {"type": "string"},
          "filePath": {"type": "string"}
        }
      }
    },
    "metadata": {"type": "object"}
  }
}`

type schemaSet struct {
	once    sync.Once
	initErr error

	health           *jsonschema.Schema
	generateEntity   *jsonschema.Schema
	generateEntityIn *jsonschema.Schema
	assistStreamIn   *jsonschema.Schema
	streamEvent      *jsonschema.Schema
	toolExecution    *jsonschema.Schema
	toolExecutionIn  *jsonschema.Schema
	ragQuery         *jsonschema.Schema
	ragQueryIn       *jsonschema.Schema
}

var schemas schemaSet

func compiledSchemas() (*schemaSet, error) {
	schemas.once.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("provider-config.json", mustReader(providerConfigSchema)); err != nil {
			schemas.initErr = err
			return
		}

		compile := func(name, src string) *jsonschema.Schema {
			if schemas.initErr != nil {
				return nil
			}
			if err := c.AddResource(name, mustReader(src)); err != nil {
				schemas.initErr = fmt.Errorf("adding %s: %w", name, err)
				return nil
			}
			s, err := c.Compile(name)
			if err != nil {
				schemas.initErr = fmt.Errorf("compiling %s: %w", name, err)
				return nil
			}
			return s
		}

		schemas.health = compile("health-response.json", healthResponseSchema)
		schemas.generateEntityIn = compile("generate-entity-request.json", generateEntityRequestSchema)
		schemas.generateEntity = compile("generate-entity-response.json", generateEntityResponseSchema)
		schemas.assistStreamIn = compile("assist-stream-request.json", assistStreamRequestSchema)
		schemas.streamEvent = compile("stream-event.json", streamEventSchema)
		schemas.toolExecutionIn = compile("tool-execution-request.json", toolExecutionRequestSchema)
		schemas.toolExecution = compile("tool-execution-response.json", toolExecutionResponseSchema)
		schemas.ragQueryIn = compile("rag-query-request.json", ragQueryRequestSchema)
		schemas.ragQuery = compile("rag-query-response.json", ragQueryResponseSchema)
	})
	if schemas.initErr != nil {
		return nil, schemas.initErr
	}
	return &schemas, nil
}

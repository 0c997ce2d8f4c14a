// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package spec

// documentSchema is the JSON Schema for version 0 of the workflow contract.
// It checks structure and primitive types; reference resolution, provider
// support and pattern-specific structural rules belong to the capability
// gate, which produces richer diagnostics.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "name", "runtime", "agents", "pattern"],
  "properties": {
    "version": {"type": ["string", "integer"]},
    "name": {"type": "string", "minLength": 1},
    "runtime": {
      "type": "object",
      "required": ["provider", "model_id"],
      "properties": {
        "provider": {"type": "string"},
        "model_id": {"type": "string", "minLength": 1},
        "region": {"type": "string"},
        "host": {"type": "string"},
        "temperature": {"type": "number"},
        "max_tokens": {"type": "integer", "minimum": 0},
        "top_p": {"type": "number"},
        "max_parallel": {"type": "integer", "minimum": 1},
        "budgets": {
          "type": "object",
          "properties": {
            "max_steps": {"type": "integer", "minimum": 0},
            "max_tokens": {"type": "integer", "minimum": 0},
            "max_duration_s": {"type": "integer", "minimum": 0}
          }
        },
        "failure_policy": {
          "type": "object",
          "properties": {
            "retries": {"type": "integer", "minimum": 0},
            "backoff": {"type": "string", "enum": ["constant", "exponential", "jittered"]}
          }
        }
      }
    },
    "inputs": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"type": "string", "enum": ["string", "integer", "number", "boolean"]},
          "description": {"type": "string"},
          "required": {"type": "boolean"},
          "enum": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "agents": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "required": ["prompt"],
        "properties": {
          "prompt": {"type": "string", "minLength": 1},
          "tools": {"type": "array", "items": {"type": "string"}},
          "runtime": {"type": "object"}
        }
      }
    },
    "tools": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "base_url": {"type": "string"},
          "options": {"type": "object"}
        }
      }
    },
    "pattern": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"type": "string"}
      }
    },
    "outputs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["path", "from"],
        "properties": {
          "path": {"type": "string", "minLength": 1},
          "from": {"type": "string"}
        }
      }
    },
    "context_policy": {"type": "object"},
    "security": {"type": "object"},
    "telemetry": {"type": "object"}
  }
}`

package plugin

// ManifestSchema is the JSON Schema every plugin manifest is validated
// against before the capability validator sees it.
const ManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "packageName", "version", "tier", "capabilities"],
  "properties": {
    "id": {
      "type": "string",
      "pattern": "^[a-z0-9-]+$",
      "description": "Unique plugin identifier"
    },
    "packageName": {
      "type": "string",
      "minLength": 1,
      "description": "Package the plugin ships in (e.g. @atrium/calendar)"
    },
    "version": {
      "type": "string",
      "pattern": "^\\d+\\.\\d+\\.\\d+$",
      "description": "Semver version"
    },
    "tier": {
      "type": "string",
      "enum": ["A", "B", "C", "main-app"],
      "description": "Capability tier the plugin runs under"
    },
    "capabilities": {
      "type": "array",
      "items": {
        "type": "string",
        "minLength": 1
      },
      "description": "Requested capability identifiers"
    },
    "routePrefix": {
      "type": "string",
      "description": "Declared route namespace; must live under /api/v1/apps/{id}"
    },
    "features": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["defaultEnabled"],
        "properties": {
          "defaultEnabled": {
            "type": "boolean"
          }
        }
      },
      "description": "Feature flags the plugin ships, keyed by feature id"
    }
  }
}`

package schema

// Schema IDs for the fabric entities.
const (
	SchemaBoundary    = "boundary"
	SchemaSurface     = "surface"
	SchemaAttestation = "attestation"
	SchemaPolicy      = "policy"
)

// EntitySchemas returns the built-in entity schema sources keyed by schema ID.
func EntitySchemas() map[string]string {
	return map[string]string{
		SchemaBoundary:    boundarySchema,
		SchemaSurface:     surfaceSchema,
		SchemaAttestation: attestationSchema,
		SchemaPolicy:      policySchema,
	}
}

const boundarySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "owner_node_id", "type", "protected_resources", "status"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "owner_node_id": {"type": "string", "minLength": 1},
    "type": {"enum": ["internal", "external", "hybrid"]},
    "protected_resources": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "status": {"enum": ["active", "inactive", "pending", "deprecated"]},
    "metadata": {"type": "object"}
  }
}`

const surfaceSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "owner_node_id", "boundary_ids", "type", "status"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "owner_node_id": {"type": "string", "minLength": 1},
    "boundary_ids": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1}
    },
    "type": {"enum": ["standard", "enhanced", "minimal", "composite"]},
    "status": {"enum": ["active", "inactive", "pending", "deprecated"]},
    "metadata": {"type": "object"}
  }
}`

const attestationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "attester_node_id", "subject_surface_id", "type", "status"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "attester_node_id": {"type": "string", "minLength": 1},
    "subject_surface_id": {"type": "string", "minLength": 1},
    "type": {"type": "string", "minLength": 1},
    "status": {"enum": ["valid", "revoked"]},
    "parent_attestation_id": {"type": "string"},
    "metadata": {"type": "object"}
  }
}`

const policySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "boundary_id", "level", "permitted_actions", "status"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "boundary_id": {"type": "string", "minLength": 1},
    "level": {"enum": ["strict", "moderate", "audit-only"]},
    "permitted_actions": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "auto_remediate": {"type": "boolean"},
    "condition": {"type": "string"},
    "status": {"enum": ["active", "inactive", "pending", "deprecated"]},
    "metadata": {"type": "object"}
  }
}`

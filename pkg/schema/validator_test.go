package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesheets/trustfabric/pkg/contracts"
)

func validBoundaryRecord() map[string]any {
	return map[string]any{
		"id":                  "bnd-1",
		"owner_node_id":       "node-a",
		"type":                "internal",
		"protected_resources": []string{"data_access"},
		"status":              "active",
	}
}

func TestValidateBoundary(t *testing.T) {
	v, err := NewEntityValidator()
	require.NoError(t, err)

	assert.NoError(t, v.Validate(validBoundaryRecord(), SchemaBoundary))

	bad := validBoundaryRecord()
	bad["type"] = "perimeter"
	err = v.Validate(bad, SchemaBoundary)
	assert.True(t, errors.Is(err, contracts.ErrValidation))

	missing := validBoundaryRecord()
	delete(missing, "owner_node_id")
	err = v.Validate(missing, SchemaBoundary)
	assert.True(t, errors.Is(err, contracts.ErrValidation))
}

func TestValidateSurfaceRequiresBoundaryIDs(t *testing.T) {
	v, err := NewEntityValidator()
	require.NoError(t, err)

	record := map[string]any{
		"id":            "srf-1",
		"owner_node_id": "node-a",
		"boundary_ids":  []string{},
		"type":          "standard",
		"status":        "active",
	}
	err = v.Validate(record, SchemaSurface)
	assert.True(t, errors.Is(err, contracts.ErrValidation), "empty boundary_ids must fail")

	record["boundary_ids"] = []string{"bnd-1"}
	assert.NoError(t, v.Validate(record, SchemaSurface))
}

func TestValidateUnknownSchema(t *testing.T) {
	v, err := NewEntityValidator()
	require.NoError(t, err)

	err = v.Validate(map[string]any{}, "widget")
	assert.True(t, errors.Is(err, contracts.ErrValidation))
}

func TestValidatePolicy(t *testing.T) {
	v, err := NewEntityValidator()
	require.NoError(t, err)

	record := map[string]any{
		"id":                "pol-1",
		"boundary_id":       "bnd-1",
		"level":             "strict",
		"permitted_actions": []string{"read"},
		"auto_remediate":    true,
		"status":            "active",
	}
	assert.NoError(t, v.Validate(record, SchemaPolicy))

	record["level"] = "draconian"
	assert.Error(t, v.Validate(record, SchemaPolicy))
}

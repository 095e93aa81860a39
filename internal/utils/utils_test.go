package utils

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-mcp-gateway/internal/models"
)

func TestLegacyDates(t *testing.T) {
	assert.True(t, IsODataLegacyDate("/Date(1700000000000)/"))
	assert.True(t, IsODataLegacyDate("/Date(1700000000000+0100)/"))
	assert.False(t, IsODataLegacyDate("2024-01-01"))

	assert.Equal(t, "2023-11-14T22:13:20Z", LegacyDateToISO("/Date(1700000000000)/"))
	assert.Equal(t, "not a date", LegacyDateToISO("not a date"))

	assert.Equal(t, "/Date(1704067200000)/", ISOToLegacyDate("2024-01-01T00:00:00Z"))
	assert.Equal(t, "/Date(1704067200000)/", ISOToLegacyDate("2024-01-01"))
	assert.Equal(t, "/Date(5)/", ISOToLegacyDate("/Date(5)/"))
	assert.Equal(t, "soon", ISOToLegacyDate("soon"))
}

func TestConvertLegacyDates(t *testing.T) {
	in := map[string]interface{}{
		"CreatedAt": "/Date(0)/",
		"Items":     []interface{}{map[string]interface{}{"Due": "/Date(86400000)/"}},
		"Name":      "x",
	}
	out := ConvertLegacyDates(in).(map[string]interface{})
	assert.Equal(t, "1970-01-01T00:00:00Z", out["CreatedAt"])
	assert.Equal(t, "1970-01-02T00:00:00Z", out["Items"].([]interface{})[0].(map[string]interface{})["Due"])
	assert.Equal(t, "x", out["Name"])
	assert.Equal(t, "/Date(0)/", in["CreatedAt"])
}

func TestCoercePayload(t *testing.T) {
	entity := &models.Entity{
		Name: "Order",
		Properties: []*models.Property{
			{Name: "Amount", Type: "Edm.Decimal"},
			{Name: "Big", Type: "Edm.Int64"},
			{Name: "Qty", Type: "Edm.Int32"},
			{Name: "PostedOn", Type: "Edm.DateTime"},
		},
	}
	out := CoercePayload(entity, map[string]interface{}{
		"Amount":   12.5,
		"Big":      json.Number("9007199254740993"),
		"Qty":      3,
		"PostedOn": "2024-01-01",
		"Extra":    1.5,
	}, true)
	assert.Equal(t, "12.5", out["Amount"])
	assert.Equal(t, "9007199254740993", out["Big"])
	assert.Equal(t, 3, out["Qty"])
	assert.Equal(t, "/Date(1704067200000)/", out["PostedOn"])
	assert.Equal(t, 1.5, out["Extra"])

	out = CoercePayload(entity, map[string]interface{}{"PostedOn": "2024-01-01", "Amount": 1}, false)
	assert.Equal(t, "2024-01-01", out["PostedOn"])
	assert.Equal(t, "1", out["Amount"])
}

func TestNumericToString(t *testing.T) {
	assert.Equal(t, "1000000", NumericToString(1e6))
	assert.Equal(t, "42", NumericToString(int64(42)))
	assert.Equal(t, "x", NumericToString("x"))
}

func TestLimiter(t *testing.T) {
	var nilLimiter *Limiter
	assert.True(t, nilLimiter.Allow())
	require.NoError(t, nilLimiter.Wait(context.Background()))
	assert.Nil(t, NewLimiter(0, 1))

	l := NewLimiter(1, 1)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.Wait(ctx))
}

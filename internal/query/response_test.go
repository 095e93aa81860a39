package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
)

func TestNormalizeV2AndV4Agree(t *testing.T) {
	v2, err := NormalizeResponse([]byte(`{"d":{"results":[{"a":1}],"__count":"1"}}`))
	require.NoError(t, err)
	v4, err := NormalizeResponse([]byte(`{"value":[{"a":1}],"@odata.count":1}`))
	require.NoError(t, err)

	assert.Equal(t, v4, v2)
	require.NotNil(t, v2.Count)
	assert.Equal(t, int64(1), *v2.Count)
	assert.True(t, v2.IsCollection())
}

func TestNormalizeResponse(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantData  interface{}
		wantCount *int64
		wantNext  string
	}{
		{
			name:     "v2 single entity",
			body:     `{"d":{"ID":"1","Name":"x"}}`,
			wantData: map[string]interface{}{"ID": "1", "Name": "x"},
		},
		{
			name:     "v2 next link",
			body:     `{"d":{"results":[],"__next":"Orders?$skiptoken=2"}}`,
			wantData: []interface{}{},
			wantNext: "Orders?$skiptoken=2",
		},
		{
			name:      "v3 json light",
			body:      `{"odata.metadata":"x","value":[],"odata.count":"3","odata.nextLink":"n"}`,
			wantData:  []interface{}{},
			wantCount: func() *int64 { n := int64(3); return &n }(),
			wantNext:  "n",
		},
		{
			name:     "v4 single entity passes through",
			body:     `{"@odata.context":"c","ID":2}`,
			wantData: map[string]interface{}{"@odata.context": "c", "ID": json.Number("2")},
		},
		{
			name:     "v2 entity with scalar results property",
			body:     `{"d":{"ID":"1","results":"ok"}}`,
			wantData: map[string]interface{}{"ID": "1", "results": "ok"},
		},
		{
			name: "v4 entity with value property",
			body: `{"@odata.context":"$metadata#Measures/$entity","ID":7,"Unit":"kg","value":42}`,
			wantData: map[string]interface{}{
				"@odata.context": "$metadata#Measures/$entity",
				"ID":             json.Number("7"),
				"Unit":           "kg",
				"value":          json.Number("42"),
			},
		},
		{
			name:     "v4 primitive function result",
			body:     `{"@odata.context":"$metadata#Edm.Int32","value":42}`,
			wantData: json.Number("42"),
		},
		{
			name:     "plain text",
			body:     "42",
			wantData: json.Number("42"),
		},
		{
			name:     "not json",
			body:     "<html>oops</html>",
			wantData: "<html>oops</html>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NormalizeResponse([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.wantData, res.Data)
			assert.Equal(t, tt.wantCount, res.Count)
			assert.Equal(t, tt.wantNext, res.NextLink)
		})
	}
}

func TestNormalizeEmptyBody(t *testing.T) {
	res, err := NormalizeResponse(nil)
	require.NoError(t, err)
	assert.Nil(t, res.Data)
}

func TestNormalizeErrorEnvelope(t *testing.T) {
	_, err := NormalizeResponse([]byte(`{"error":{"code":"SY/530","message":{"lang":"en","value":"Resource not found"}}}`))
	require.Error(t, err)
	assert.True(t, bridgeerr.Is(err, bridgeerr.KindRequest))
	assert.Contains(t, err.Error(), "Resource not found")
	assert.Contains(t, err.Error(), "SY/530")
}

func TestParseError(t *testing.T) {
	v4 := []byte(`{"error":{"code":"400","message":"Bad filter","target":"$filter","details":[{"message":"unknown property"}]}}`)
	err := ParseError(400, v4)
	var be *bridgeerr.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 400, be.Status)
	assert.Contains(t, be.Message, "Bad filter")
	assert.Contains(t, be.Message, "target: $filter")
	assert.Contains(t, be.Message, "unknown property")

	err = ParseError(502, []byte("Bad Gateway"))
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "Bad Gateway", be.Message)

	err = ParseError(500, nil)
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "HTTP 500", be.Message)
}

func TestParseCount(t *testing.T) {
	n, err := ParseCount([]byte(" 17\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)

	_, err = ParseCount([]byte("abc"))
	assert.Error(t, err)
}

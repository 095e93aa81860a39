package schema

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
)

// Validate checks tool arguments against a generated input schema.
func Validate(inputSchema map[string]interface{}, args map[string]interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(inputSchema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return bridgeerr.New(bridgeerr.KindValidation, "input schema could not be evaluated", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return bridgeerr.New(bridgeerr.KindValidation, "invalid arguments: "+strings.Join(msgs, "; "), nil)
}

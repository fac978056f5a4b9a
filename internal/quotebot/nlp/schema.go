package nlp

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema names accepted by GenerateRequest.Schema.
const (
	SchemaOrder       = "order"
	SchemaCatalogOp   = "catalog_op"
	SchemaDirectoryOp = "directory_op"
	SchemaEventDraft  = "event_draft"
)

//go:embed schemas/*.json
var schemasFS embed.FS

// compiled schemas, built once at init. A broken embedded schema is a
// programming error, so init panics rather than deferring the failure.
var schemas = func() map[string]*jsonschema.Schema {
	names := []string{SchemaOrder, SchemaCatalogOp, SchemaDirectoryOp, SchemaEventDraft}
	out := make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		data, err := schemasFS.ReadFile("schemas/" + name + ".json")
		if err != nil {
			panic(fmt.Sprintf("nlp: missing embedded schema %s: %v", name, err))
		}
		c := jsonschema.NewCompiler()
		url := "quotebot://schemas/" + name + ".json"
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			panic(fmt.Sprintf("nlp: add schema %s: %v", name, err))
		}
		out[name] = c.MustCompile(url)
	}
	return out
}()

// ValidatePayload checks raw against the named embedded schema. A schema
// violation is reported as ErrMalformedOutput so callers treat it exactly
// like any other unusable model output.
func ValidatePayload(schema string, raw json.RawMessage) error {
	sch, ok := schemas[schema]
	if !ok {
		return fmt.Errorf("nlp: unknown schema %q", schema)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("%w: schema %s: %v", ErrMalformedOutput, schema, err)
	}
	return nil
}

package nlp_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/leylacuisine/quotebot/internal/quotebot/nlp"
)

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		schema  string
		payload string
		wantErr error
	}{
		{
			name:    "valid order",
			schema:  nlp.SchemaOrder,
			payload: `{"email":"a@b.com","items":[{"name":"Lasagna","quantity":2}],"delivery":true}`,
		},
		{
			name:    "order without items",
			schema:  nlp.SchemaOrder,
			payload: `{"email":"a@b.com"}`,
			wantErr: nlp.ErrMalformedOutput,
		},
		{
			name:    "order with zero quantity",
			schema:  nlp.SchemaOrder,
			payload: `{"items":[{"name":"Lasagna","quantity":0}]}`,
			wantErr: nlp.ErrMalformedOutput,
		},
		{
			name:    "valid event draft",
			schema:  nlp.SchemaEventDraft,
			payload: `{"summary":"Delivery for Pat","start":"2026-09-01T12:00","end":"2026-09-01T13:00"}`,
		},
		{
			name:    "event draft with bare date",
			schema:  nlp.SchemaEventDraft,
			payload: `{"summary":"Delivery","start":"2026-09-01","end":"2026-09-01T13:00"}`,
			wantErr: nlp.ErrMalformedOutput,
		},
		{
			name:    "not JSON at all",
			schema:  nlp.SchemaOrder,
			payload: `sure, here is your order`,
			wantErr: nlp.ErrMalformedOutput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := nlp.ValidatePayload(tt.schema, json.RawMessage(tt.payload))
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidatePayload: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePayload_UnknownSchema(t *testing.T) {
	err := nlp.ValidatePayload("invoice", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("unknown schema name must be rejected")
	}
	if errors.Is(err, nlp.ErrMalformedOutput) {
		t.Error("unknown schema is a caller bug, not malformed model output")
	}
}

package ingest

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		usable  bool
		reason  string
	}{
		{
			name:    "non-empty rates",
			payload: map[string]any{"success": true, "rates": map[string]any{"2025-01-01": map[string]any{"EUR": json.Number("0.9")}}},
			usable:  true,
		},
		{
			name:    "non-empty quotes",
			payload: map[string]any{"success": true, "quotes": map[string]any{"2025-01-01": map[string]any{"USDEUR": json.Number("0.9")}}},
			usable:  true,
		},
		{
			name:    "empty rates and no quotes",
			payload: map[string]any{"success": true, "rates": map[string]any{}},
			reason:  "no data fields",
		},
		{
			name:    "empty quotes list",
			payload: map[string]any{"quotes": []any{}},
			reason:  "no data fields",
		},
		{
			name:    "neither field",
			payload: map[string]any{"success": true, "timeframe": true},
			reason:  "no data fields (keys: success, timeframe)",
		},
		{
			name:    "array payload",
			payload: []any{json.Number("1")},
			reason:  "unexpected type []interface {}",
		},
		{
			name:    "null payload",
			payload: nil,
			reason:  "unexpected type <nil>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(tt.payload)
			if got.Usable != tt.usable {
				t.Fatalf("Usable = %v, want %v (reason %q)", got.Usable, tt.usable, got.Reason)
			}
			if got.Skippable() == tt.usable {
				t.Errorf("Skippable() should be the inverse of Usable")
			}
			if !strings.HasPrefix(got.Reason, tt.reason) {
				t.Errorf("Reason = %q, want prefix %q", got.Reason, tt.reason)
			}
		})
	}
}

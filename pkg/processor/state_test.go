package processor

import (
	"errors"
	"testing"
)

func TestStateBinaryRoundTrip(t *testing.T) {
	bypassed := true
	original := &State{
		Bypassed: &bypassed,
		Parameters: []ParameterValue{
			{ID: 3, Value: 0.25},
			{ID: 4, Value: 0.75},
		},
		Properties: []PropertyValue{
			{ID: 5, Value: "render.wav"},
			{ID: 6, Value: ""},
		},
	}

	blob, err := original.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var restored State
	if err := restored.UnmarshalBinary(blob); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if restored.Bypassed == nil || !*restored.Bypassed {
		t.Error("bypass flag lost")
	}
	if len(restored.Parameters) != 2 || restored.Parameters[1].Value != 0.75 {
		t.Errorf("parameters lost: %v", restored.Parameters)
	}
	if len(restored.Properties) != 2 || restored.Properties[0].Value != "render.wav" {
		t.Errorf("properties lost: %v", restored.Properties)
	}
}

func TestStateBinaryEmpty(t *testing.T) {
	original := &State{}

	blob, err := original.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var restored State
	if err := restored.UnmarshalBinary(blob); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if restored.Bypassed != nil {
		t.Error("empty state should not carry a bypass flag")
	}
	if len(restored.Parameters) != 0 || len(restored.Properties) != 0 {
		t.Errorf("empty state grew content: %v %v", restored.Parameters, restored.Properties)
	}
}

func TestStateBinaryRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
		want error
	}{
		{"empty", nil, ErrStateCorrupt},
		{"bad magic", []byte("WAVE\x01\x00\x00"), ErrStateCorrupt},
		{"truncated header", []byte("TAKT\x01"), ErrStateCorrupt},
		{"future version", []byte("TAKT\x63\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"), ErrStateVersion},
		{"oversized count", []byte("TAKT\x01\x00\x00\xff\xff\xff\xff"), ErrStateCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s State
			if err := s.UnmarshalBinary(tt.blob); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

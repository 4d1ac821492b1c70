package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDurationUnmarshalJSONAcceptsString(t *testing.T) {
	var d Duration

	if err := json.Unmarshal([]byte(`"90s"`), &d); err != nil {
		t.Fatalf("unmarshal duration string: %v", err)
	}

	if d.Std() != 90*time.Second {
		t.Fatalf("expected 90s duration, got %v", d.Std())
	}
}

func TestDurationUnmarshalJSONAcceptsNumber(t *testing.T) {
	var d Duration

	if err := json.Unmarshal([]byte(`5000000000`), &d); err != nil {
		t.Fatalf("unmarshal duration number: %v", err)
	}

	if d.Std() != 5*time.Second {
		t.Fatalf("expected 5s duration, got %v", d.Std())
	}
}

func TestDurationUnmarshalJSONRejectsOtherTypes(t *testing.T) {
	var d Duration

	err := json.Unmarshal([]byte(`true`), &d)
	if !errors.Is(err, errInvalidDuration) {
		t.Fatalf("expected errInvalidDuration, got %v", err)
	}
}

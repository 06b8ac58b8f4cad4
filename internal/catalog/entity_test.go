package catalog

import (
	"reflect"
	"testing"

	"caskwatch/internal/model"
)

func TestMissingTypes(t *testing.T) {
	entity := &model.Entity{Name: "Ardbeg", Type: []string{"brand"}}

	tests := []struct {
		name       string
		candidates []string
		want       []string
	}{
		{"new type", []string{"distiller"}, []string{"distiller"}},
		{"already present", []string{"brand"}, nil},
		{"mixed", []string{"brand", "distiller", "bottler"}, []string{"distiller", "bottler"}},
		{"duplicate candidates", []string{"distiller", "distiller"}, []string{"distiller"}},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := missingTypes(entity, tt.candidates)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("missingTypes(%v) = %v, want %v", tt.candidates, got, tt.want)
			}
		})
	}
}

// The same company showing up first as a brand, then as a distiller,
// must end with both types and no second row.
func TestTypeAccumulation(t *testing.T) {
	entity := &model.Entity{Name: "Ardbeg", Type: dedupeTypes([]string{"brand"})}

	missing := missingTypes(entity, []string{"distiller"})
	entity.Type = append(entity.Type, missing...)

	if !entity.HasType("brand") || !entity.HasType("distiller") {
		t.Fatalf("expected accumulated types, got %v", entity.Type)
	}

	// Re-submitting an existing type adds nothing.
	if again := missingTypes(entity, []string{"brand", "distiller"}); len(again) != 0 {
		t.Fatalf("expected no missing types, got %v", again)
	}
}

func TestDedupeTypes(t *testing.T) {
	got := dedupeTypes([]string{"brand", "brand", "distiller", "brand"})
	want := []string{"brand", "distiller"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dedupeTypes = %v, want %v", got, want)
	}
}

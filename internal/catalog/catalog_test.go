package catalog

import (
	"errors"
	"testing"
)

const sampleCatalog = `
steps:
  - id: ocr@1
    name: OCR
    version: "1"
    endpoint: http://ocr.internal/run
    defaultSchemaId: ocr-ir
  - id: classify@2
    name: Classifier
    version: "2"
schemas:
  - id: ocr-ir
    stepVersionId: ocr@1
    schema:
      type: object
      required: [text]
  - id: ocr-ir-strict
    stepVersionId: ocr@1
    schema:
      type: object
      required: [text, pages]
  - id: classify-ir
    stepVersionId: classify@2
    schema:
      type: object
metricProfiles:
  - id: ocr-quality
    checks:
      - key: has_text
        type: field_present
        path: text
      - key: confidence
        type: number_range
        path: confidence
        min: 0.8
`

func TestLoad(t *testing.T) {
	c, err := Load([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	steps := c.Steps()
	if len(steps) != 2 || steps[0].ID != "classify@2" {
		t.Errorf("Expected 2 steps sorted by id, got %v", steps)
	}

	schemas, err := c.SchemasFor("ocr@1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(schemas) != 2 {
		t.Errorf("Expected 2 schemas for ocr@1, got %d", len(schemas))
	}

	p, err := c.Profile("ocr-quality")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(p.Checks) != 2 || p.Checks[1].Min == nil || *p.Checks[1].Min != 0.8 {
		t.Errorf("Unexpected profile checks: %+v", p.Checks)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"schema for unknown step", "schemas:\n  - id: s\n    stepVersionId: nope\n"},
		{"unknown default schema", "steps:\n  - id: a\n    defaultSchemaId: missing\n"},
		{"unknown check type", "metricProfiles:\n  - id: p\n    checks:\n      - key: k\n        type: magic\n"},
		{"duplicate step", "steps:\n  - id: a\n  - id: a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load([]byte(tt.data)); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestResolveSchema(t *testing.T) {
	c, err := Load([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	tests := []struct {
		name     string
		step     string
		override string
		wantID   string
		wantOK   bool
		wantErr  bool
	}{
		{"default schema", "ocr@1", "", "ocr-ir", true, false},
		{"override", "ocr@1", "ocr-ir-strict", "ocr-ir-strict", true, false},
		{"single bound schema", "classify@2", "", "classify-ir", true, false},
		{"unknown step", "ghost@1", "", "", false, false},
		{"unknown override", "ocr@1", "nope", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok, err := c.ResolveSchema(tt.step, tt.override)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveSchema error = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Errorf("ResolveSchema ok = %v, want %v", ok, tt.wantOK)
			}
			if s.ID != tt.wantID {
				t.Errorf("ResolveSchema id = %s, want %s", s.ID, tt.wantID)
			}
		})
	}
}

func TestLookups_NotFound(t *testing.T) {
	c := New()

	if _, err := c.Step("x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := c.Schema("x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := c.Profile("x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := c.SchemasFor("x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

package dag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// Parser handles parsing pipeline definitions from YAML or JSON files
type Parser struct {
	validator *Validator
}

// NewParser creates a new pipeline file parser
func NewParser() *Parser {
	return &Parser{
		validator: NewValidator(),
	}
}

// PipelineFile is a pipeline definition plus one version, as stored on disk
type PipelineFile struct {
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description" yaml:"description"`
	Schedule    string                 `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Version     string                 `json:"version" yaml:"version"`
	Config      map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Nodes       []models.DagNode       `json:"nodes" yaml:"nodes"`
	Edges       []models.DagEdge       `json:"edges" yaml:"edges"`
}

// DAG returns the node and edge list of the file
func (f *PipelineFile) DAG() models.DAG {
	return models.DAG{Nodes: f.Nodes, Edges: f.Edges}
}

// ParseFile picks the decoder from the file extension
func (p *Parser) ParseFile(path string) (*PipelineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return p.ParseJSON(data)
	}
	return p.ParseYAML(data)
}

// ParseYAML parses a pipeline definition from YAML bytes
func (p *Parser) ParseYAML(data []byte) (*PipelineFile, error) {
	var pf PipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return p.finish(&pf)
}

// ParseJSON parses a pipeline definition from JSON bytes
func (p *Parser) ParseJSON(data []byte) (*PipelineFile, error) {
	var pf PipelineFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return p.finish(&pf)
}

func (p *Parser) finish(pf *PipelineFile) (*PipelineFile, error) {
	if strings.TrimSpace(pf.Name) == "" {
		return nil, fmt.Errorf("pipeline name cannot be empty")
	}

	d := pf.DAG()
	if _, err := p.validator.Validate(&d); err != nil {
		return nil, fmt.Errorf("DAG validation failed: %w", err)
	}

	normalized := Normalize(d)
	pf.Nodes = normalized.Nodes
	pf.Edges = normalized.Edges
	return pf, nil
}

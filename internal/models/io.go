package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// DecodeProblem parses a problem document. YAML is accepted when yamlDoc is set,
// otherwise the input must be JSON.
func DecodeProblem(data []byte, yamlDoc bool) (*Problem, error) {
	p := &Problem{}
	if yamlDoc {
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parse problem yaml: %w", err)
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(p); err != nil {
			return nil, fmt.Errorf("parse problem json: %w", err)
		}
	}
	if p.TimeUnitMinutes == 0 {
		p.TimeUnitMinutes = DefaultTimeUnitMinutes
	}
	return p, nil
}

// LoadProblem reads a problem from a .json, .yaml or .yml file.
func LoadProblem(path string) (*Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read problem: %w", err)
	}
	p, err := DecodeProblem(data, isYAML(path))
	if err != nil {
		return nil, err
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// SaveProblem writes a problem to path, choosing the format from the extension.
func SaveProblem(path string, p *Problem) error {
	return writeDoc(path, p)
}

// LoadSolution reads a solution document written by SaveSolution.
func LoadSolution(path string) (*Solution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read solution: %w", err)
	}
	s := &Solution{}
	if isYAML(path) {
		err = yaml.Unmarshal(data, s)
	} else {
		err = json.Unmarshal(data, s)
	}
	if err != nil {
		return nil, fmt.Errorf("parse solution: %w", err)
	}
	return s, nil
}

// SaveSolution writes a solution to path, choosing the format from the extension.
func SaveSolution(path string, s *Solution) error {
	return writeDoc(path, s)
}

func writeDoc(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

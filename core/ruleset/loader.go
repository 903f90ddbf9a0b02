package ruleset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "battery-pricing/internal/errors"
)

// Format is a ruleset document encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// DetectFormat returns the format implied by a file extension
func DetectFormat(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".hcl":
		return FormatHCL, true
	default:
		return "", false
	}
}

// LoadFile reads and decodes a ruleset file. The ruleset is not validated.
func LoadFile(path string) (*Ruleset, error) {
	format, ok := DetectFormat(path)
	if !ok {
		return nil, apperrors.Newf(apperrors.TypeInput, "unsupported ruleset file extension: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.TypeInput, err, "failed to read ruleset %s", path)
	}

	rs, err := decode(data, format, path)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// Decode parses an in-memory ruleset document
func Decode(data []byte, format Format) (*Ruleset, error) {
	return decode(data, format, "ruleset."+string(format))
}

func decode(data []byte, format Format, filename string) (*Ruleset, error) {
	switch format {
	case FormatJSON:
		return decodeJSON(data, filename)
	case FormatYAML:
		jsonData, err := yamlToJSON(data)
		if err != nil {
			return nil, apperrors.Parsing(fmt.Sprintf("invalid YAML in %s", filename), err)
		}
		return decodeJSON(jsonData, filename)
	case FormatHCL:
		return decodeHCL(data, filename)
	default:
		return nil, apperrors.Newf(apperrors.TypeInput, "unknown ruleset format %q", format)
	}
}

func decodeJSON(data []byte, filename string) (*Ruleset, error) {
	var rs Ruleset
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, apperrors.Parsing(fmt.Sprintf("invalid ruleset document %s", filename), err)
	}
	return &rs, nil
}

// LoadResult is one file of a directory load
type LoadResult struct {
	Path    string
	Ruleset *Ruleset
	Err     error
}

// LoadDir loads every ruleset file directly under dir, sorted by path.
// Files with other extensions are ignored.
func LoadDir(dir string) ([]LoadResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.TypeInput, err, "failed to read rulesets directory %s", dir)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := DetectFormat(e.Name()); ok {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	results := make([]LoadResult, 0, len(paths))
	for _, p := range paths {
		rs, err := LoadFile(p)
		if err == nil {
			err = Check(rs)
		}
		results = append(results, LoadResult{Path: p, Ruleset: rs, Err: err})
	}
	return results, nil
}

// yamlToJSON re-encodes a YAML document as JSON keeping mapping order, so
// that globals and override sets keep the order they were written in.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 {
		return nil, fmt.Errorf("empty document")
	}

	var buf bytes.Buffer
	if err := writeYAMLNode(&buf, &doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeYAMLNode(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeYAMLNode(buf, n.Content[0])

	case yaml.AliasNode:
		return writeYAMLNode(buf, n.Alias)

	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(n.Content[i].Value)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeYAMLNode(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, c := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeYAMLNode(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	case yaml.ScalarNode:
		var v interface{}
		if err := n.Decode(&v); err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		buf.Write(b)
		return nil

	default:
		return fmt.Errorf("line %d: unsupported YAML node", n.Line)
	}
}

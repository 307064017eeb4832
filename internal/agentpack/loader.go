// ABOUTME: Agent pack discovery, decoding, placeholder expansion, and schema validation
// ABOUTME: Accepts a manifest file or a directory containing agent-pack.{yaml,yml,json,toml}

package agentpack

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

// ManifestNames are tried in order when a directory is given.
var ManifestNames = []string{"agent-pack.yaml", "agent-pack.yml", "agent-pack.json", "agent-pack.toml"}

// ErrNoManifest is returned by FindManifest when nothing usable exists at the path.
var ErrNoManifest = errors.New("no agent pack manifest found")

// ValidationError lists every schema violation in a manifest.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("agent pack %s is invalid: %s", e.Path, strings.Join(e.Errors, "; "))
}

// FindManifest resolves path to a manifest file.
func FindManifest(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w at %s", ErrNoManifest, path)
		}
		return "", fmt.Errorf("checking agent pack path: %w", err)
	}
	if !info.IsDir() {
		return path, nil
	}

	for _, name := range ManifestNames {
		candidate := filepath.Join(path, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoManifest, path)
}

// LoadManifest reads, expands, validates, and decodes the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	manifestPath, err := FindManifest(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading agent pack: %w", err)
	}

	m, err := ParseManifest(data, filepath.Ext(manifestPath))
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Path = manifestPath
		}
		return nil, err
	}
	return m, nil
}

// ParseManifest decodes a manifest in the format named by ext (".yaml", ".yml", ".json", ".toml").
func ParseManifest(data []byte, ext string) (*Manifest, error) {
	raw := map[string]any{}

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing yaml agent pack: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing json agent pack: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("parsing toml agent pack: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported agent pack format %q", ext)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	expanded, _ := expandPlaceholders(raw).(map[string]any)

	if err := validate(expanded); err != nil {
		return nil, err
	}

	// Round-trip through JSON so Flag and Number see one representation.
	normalized, err := json.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("normalizing agent pack: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(normalized, &m); err != nil {
		return nil, fmt.Errorf("decoding agent pack: %w", err)
	}
	return &m, nil
}

func validate(doc map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return &ValidationError{Errors: msgs}
}

var placeholderRe = regexp.MustCompile(`\$\{(\w+)\}`)

// expandPlaceholders replaces ${VAR} in every string with the environment value.
// Unset variables are left as written.
func expandPlaceholders(v any) any {
	switch t := v.(type) {
	case string:
		return placeholderRe.ReplaceAllStringFunc(t, func(match string) string {
			name := placeholderRe.FindStringSubmatch(match)[1]
			if val, ok := os.LookupEnv(name); ok {
				return val
			}
			return match
		})
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = expandPlaceholders(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = expandPlaceholders(val)
		}
		return out
	case []map[string]any:
		// toml arrays of tables
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = expandPlaceholders(val)
		}
		return out
	default:
		return v
	}
}

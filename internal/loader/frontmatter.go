package loader

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter is the optional YAML header of a SQL artifact:
//
//	/*---
//	kind: procedure
//	name: SALES.P_LOAD
//	depends_on: [SALES.CONFIG]
//	---*/
//
// Unknown fields cause parse errors (use Meta for extensions).
type Frontmatter struct {
	// Kind overrides artifact detection: "view" or "procedure".
	Kind string `yaml:"kind"`
	// Name overrides the name extracted from the SQL text.
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Owner       string   `yaml:"owner"`
	Tags        []string `yaml:"tags"`
	// DependsOn lists inputs the scanner cannot see, such as objects
	// referenced through dynamic SQL.
	DependsOn []string       `yaml:"depends_on"`
	Meta      map[string]any `yaml:"meta"` // Extension point for custom fields
}

// FrontmatterResult holds the result of frontmatter extraction.
type FrontmatterResult struct {
	Config  *Frontmatter
	SQL     string // SQL content after frontmatter
	HasYAML bool   // Whether frontmatter was found
}

// frontmatterPattern matches /*--- ... ---*/ blocks at the start of the file.
var frontmatterPattern = regexp.MustCompile(`(?s)^\s*/\*---\s*\n(.*?)\s*---\*/`)

// ExtractFrontmatter extracts YAML frontmatter from SQL content.
// Content without a header is returned unchanged with an empty config.
func ExtractFrontmatter(content string) (*FrontmatterResult, error) {
	result := &FrontmatterResult{
		Config:  &Frontmatter{},
		SQL:     content,
		HasYAML: false,
	}

	matches := frontmatterPattern.FindStringSubmatch(content)
	if len(matches) < 2 {
		return result, nil
	}

	result.HasYAML = true
	result.SQL = strings.TrimSpace(frontmatterPattern.ReplaceAllString(content, ""))

	config, err := parseFrontmatterYAML(matches[1])
	if err != nil {
		return nil, err
	}

	result.Config = config
	return result, nil
}

var knownFields = map[string]bool{
	"kind":        true,
	"name":        true,
	"description": true,
	"owner":       true,
	"tags":        true,
	"depends_on":  true,
	"meta":        true,
}

// parseFrontmatterYAML parses YAML content with strict field validation.
func parseFrontmatterYAML(yamlContent string) (*Frontmatter, error) {
	// First, decode into a map to check for unknown fields
	var rawMap map[string]any
	if err := yaml.Unmarshal([]byte(yamlContent), &rawMap); err != nil {
		return nil, &FrontmatterParseError{
			Message: fmt.Sprintf("invalid YAML: %v", err),
		}
	}

	for field := range rawMap {
		if !knownFields[field] {
			return nil, &UnknownFieldError{Field: field}
		}
	}

	var config Frontmatter
	if err := yaml.Unmarshal([]byte(yamlContent), &config); err != nil {
		return nil, &FrontmatterParseError{
			Message: fmt.Sprintf("failed to parse frontmatter: %v", err),
		}
	}

	switch config.Kind {
	case "", string(View), string(Procedure):
	default:
		return nil, &FrontmatterParseError{
			Message: fmt.Sprintf("invalid kind value: %q, must be one of: view, procedure", config.Kind),
		}
	}

	return &config, nil
}

// FrontmatterParseError represents a frontmatter parsing error.
type FrontmatterParseError struct {
	File    string
	Message string
}

func (e *FrontmatterParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// UnknownFieldError represents an error for unknown frontmatter fields.
type UnknownFieldError struct {
	File  string
	Field string
}

func (e *UnknownFieldError) Error() string {
	msg := fmt.Sprintf("unknown field %q in frontmatter, use \"meta\" field for custom fields", e.Field)
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, msg)
	}
	return msg
}

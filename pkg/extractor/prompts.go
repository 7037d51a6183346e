package extractor

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Default versions recorded on runs when no prompt pack override is loaded.
const (
	DefaultPromptVersion = "rfp-extract-v2"
	DefaultSchemaVersion = "candidate-v1"
)

const defaultTemplate = `Extract all requirements from the RFP document below.

Output JSON schema (%s): a JSON array where each element is
{"req_key": "REQ-NNN", "text": "<normalized requirement statement>",
 "category": "FUNCTIONAL|NON_FUNCTIONAL|CONSTRAINT",
 "confidence": <0.0-1.0>,
 "source_paragraph_id": "<paragraph identifier>",
 "source_section": "<section heading>",
 "source_quote": "<verbatim source sentence>",
 "is_ambiguous": <true if the statement is vague or conflicting>,
 "duplicate_refs": ["<req_key of any near-duplicate>"]}

Number req_key sequentially in document order. Do not merge duplicates;
flag them via duplicate_refs instead.

Document:
%s`

// PromptPack holds versioned prompt templates. Each template takes the schema
// version and the document text, in that order.
type PromptPack struct {
	Templates map[string]string `yaml:"templates"`
}

// DefaultPromptPack returns the built-in prompt set.
func DefaultPromptPack() *PromptPack {
	return &PromptPack{Templates: map[string]string{
		DefaultPromptVersion: defaultTemplate,
	}}
}

// LoadPromptPack reads a YAML prompt pack from disk and overlays it onto the
// defaults, so an operator can pin or iterate prompt versions without a
// rebuild.
func LoadPromptPack(path string) (*PromptPack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extractor: read prompt pack %s", path)
	}
	pack := DefaultPromptPack()
	var loaded PromptPack
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, eris.Wrapf(err, "extractor: parse prompt pack %s", path)
	}
	for version, tmpl := range loaded.Templates {
		pack.Templates[version] = tmpl
	}
	return pack, nil
}

// Render produces the final prompt for a document under a given prompt and
// schema version.
func (p *PromptPack) Render(promptVersion, schemaVersion, document string) (string, error) {
	tmpl, ok := p.Templates[promptVersion]
	if !ok {
		return "", eris.Errorf("extractor: unknown prompt version %q", promptVersion)
	}
	return fmt.Sprintf(tmpl, schemaVersion, document), nil
}

package decisions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validRulesYAML = `rules:
  - id: big_bucket
    name: Big Bucket
    priority: 5
    conditions:
      - field: entity_type
        operator: eq
        value: storage_bucket
      - field: size_gb
        operator: gt
        value: 100
    action: archive
    recommendation_template: "Archive '{resource_id}'"
    confidence: 0.7
`

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRulesFile(t *testing.T) {
	path := writeRulesFile(t, validRulesYAML)

	ruleSet, err := LoadRulesFile(path)
	require.NoError(t, err)
	require.Len(t, ruleSet, 1)

	rule := ruleSet[0]
	assert.Equal(t, "big_bucket", rule.ID)
	assert.Equal(t, 5, rule.Priority)
	assert.Len(t, rule.Conditions, 2)
	assert.Equal(t, "archive", string(rule.Action))
}

func TestLoadRulesFileMissing(t *testing.T) {
	_, err := LoadRulesFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRulesFileRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "malformed yaml",
			content: "rules: [",
		},
		{
			name:    "empty rule list",
			content: "rules: []\n",
		},
		{
			name: "unknown operator",
			content: `rules:
  - id: r1
    name: R1
    conditions:
      - field: size_gb
        operator: matches
        value: 1
    action: archive
    recommendation_template: x
    confidence: 0.5
`,
		},
		{
			name: "missing condition field",
			content: `rules:
  - id: r1
    name: R1
    conditions:
      - operator: gt
        value: 1
    action: archive
    recommendation_template: x
    confidence: 0.5
`,
		},
		{
			name: "unknown action",
			content: `rules:
  - id: r1
    name: R1
    conditions:
      - field: size_gb
        operator: gt
        value: 1
    action: explode
    recommendation_template: x
    confidence: 0.5
`,
		},
		{
			name: "confidence out of range",
			content: `rules:
  - id: r1
    name: R1
    conditions:
      - field: size_gb
        operator: gt
        value: 1
    action: archive
    recommendation_template: x
    confidence: 1.5
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRulesFile(t, tt.content)
			_, err := LoadRulesFile(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadRulesFileRejectsDuplicateIDs(t *testing.T) {
	content := validRulesYAML + `  - id: big_bucket
    name: Duplicate
    priority: 1
    conditions:
      - field: size_gb
        operator: gt
        value: 1
    action: review
    recommendation_template: x
    confidence: 0.5
`
	path := writeRulesFile(t, content)

	_, err := LoadRulesFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate rule id")
}

func TestWatcherLoadsInitialRules(t *testing.T) {
	path := writeRulesFile(t, validRulesYAML)
	engine := NewEngine()

	w, err := NewWatcher(engine, path)
	require.NoError(t, err)
	defer w.Close()

	ruleSet := engine.Rules()
	require.Len(t, ruleSet, 1)
	assert.Equal(t, "big_bucket", ruleSet[0].ID)
}

func TestWatcherRejectsBadInitialFile(t *testing.T) {
	path := writeRulesFile(t, "rules: []\n")
	engine := NewEngine()

	_, err := NewWatcher(engine, path)
	assert.Error(t, err)
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_GRAPH_SECRET", "s3cret-value")
	t.Setenv("TEST_DB_HOST", "db.internal")
	t.Setenv("TEST_DB_PORT", "5432")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single variable",
			input:    "client_secret: {{.TEST_GRAPH_SECRET}}",
			expected: "client_secret: s3cret-value",
		},
		{
			name:     "multiple variables on one line",
			input:    "host: {{.TEST_DB_HOST}}:{{.TEST_DB_PORT}}",
			expected: "host: db.internal:5432",
		},
		{
			name:     "missing variable expands to empty",
			input:    "value: '{{.DOES_NOT_EXIST_ANYWHERE}}'",
			expected: "value: ''",
		},
		{
			name:     "dollar signs preserved literally",
			input:    `pattern: "^secret.*$"`,
			expected: `pattern: "^secret.*$"`,
		},
		{
			name:     "shell-style variables untouched",
			input:    "path: $PATH and ${HOME}",
			expected: "path: $PATH and ${HOME}",
		},
		{
			name:     "no template syntax passes through",
			input:    "plain: yaml\nlist:\n  - a\n  - b",
			expected: "plain: yaml\nlist:\n  - a\n  - b",
		},
		{
			name:     "malformed template returns original",
			input:    "broken: {{.UNCLOSED",
			expected: "broken: {{.UNCLOSED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestExpandEnvValueWithEquals(t *testing.T) {
	t.Setenv("TEST_CONN", "key=value;other=thing")

	result := ExpandEnv([]byte("conn: {{.TEST_CONN}}"))
	assert.Equal(t, "conn: key=value;other=thing", string(result))
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaults(t *testing.T) {
	t.Cleanup(func() { SetForTesting(nil) })
	dir := t.TempDir()

	require.NoError(t, Load(dir))

	_, err := os.Stat(Path(dir))
	require.NoError(t, err, "default config should be written")

	cfg, err := Get()
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, cfg.Model.Default)
	assert.Equal(t, WorkflowDirect, cfg.Workflow.Default)
	assert.InDelta(t, DefaultThreshold, cfg.Matcher.Threshold, 1e-9)
	assert.Equal(t, DefaultPollIntervalMS, cfg.Workflow.PollIntervalMS)
	assert.Equal(t, int64(DefaultMaxFileBytes), cfg.Context.MaxFileBytes)
	assert.Contains(t, cfg.Context.Exclude, "**/*.patchmind.json")
	assert.Equal(t, dir, ProjectDir())
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	t.Cleanup(func() { SetForTesting(nil) })
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ProjectConfigDir), 0o755))
	yamlText := `
model:
  default: gpt-4o
workflow:
  default: plan_critique_execute
matcher:
  threshold: 0.75
`
	require.NoError(t, os.WriteFile(Path(dir), []byte(yamlText), 0o644))

	require.NoError(t, Load(dir))
	cfg, err := Get()
	require.NoError(t, err)

	assert.Equal(t, ModelGPT4o, cfg.Model.Default)
	assert.Equal(t, WorkflowPlanCritiqueExecute, cfg.Workflow.Default)
	assert.InDelta(t, 0.75, cfg.Matcher.Threshold, 1e-9)
	assert.Equal(t, DefaultOutputReserve, cfg.Budget.OutputReserve)
	assert.Equal(t, EnvGoogleSearchAPIKey, cfg.Retrieval.GoogleKeyName)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unparseable", "model: [unterminated"},
		{"bad workflow", "workflow:\n  default: loop\n"},
		{"bad threshold", "matcher:\n  threshold: 1.5\n"},
		{"unknown model", "model:\n  default: mystery-model\n"},
		{"unknown source", "retrieval:\n  sources: [bing]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(func() { SetForTesting(nil) })
			dir := t.TempDir()
			require.NoError(t, os.MkdirAll(filepath.Join(dir, ProjectConfigDir), 0o755))
			require.NoError(t, os.WriteFile(Path(dir), []byte(tt.yaml), 0o644))

			assert.Error(t, Load(dir))
		})
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Cleanup(func() { SetForTesting(nil) })
	SetForTesting(Defaults())

	cfg, err := Get()
	require.NoError(t, err)
	cfg.Context.Exclude[0] = "mutated"
	cfg.Model.Default = "mutated"

	again, err := Get()
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.Context.Exclude[0])
	assert.Equal(t, DefaultModel, again.Model.Default)
}

func TestGetBeforeLoad(t *testing.T) {
	SetForTesting(nil)
	_, err := Get()
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Cleanup(func() { SetForTesting(nil) })
	dir := t.TempDir()
	require.NoError(t, Load(dir))

	cfg, err := Get()
	require.NoError(t, err)
	cfg.Metrics.Enabled = true
	cfg.Retrieval.Sources = []string{SourceLocal, SourceGoogle}
	require.NoError(t, Save(&cfg))

	SetForTesting(nil)
	require.NoError(t, Load(dir))
	reloaded, err := Get()
	require.NoError(t, err)
	assert.True(t, reloaded.Metrics.Enabled)
	assert.Equal(t, []string{SourceLocal, SourceGoogle}, reloaded.Retrieval.Sources)
}

func TestBudgetFor(t *testing.T) {
	tests := []struct {
		name   string
		budget BudgetConfig
		model  string
		want   int
	}{
		{"explicit default", BudgetConfig{Default: 1234, Max: 10, OutputReserve: 5}, ModelGPT4o, 1234},
		{"capped by max", BudgetConfig{Max: 50000, OutputReserve: 4096}, ModelClaudeSonnet, 50000},
		{"window minus reserve", BudgetConfig{Max: 100000, OutputReserve: 4096}, ModelLlama31, 8192 - 4096},
		{"unknown model", BudgetConfig{Max: 100000, OutputReserve: 2000}, "phi4", defaultContextTokens - 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.budget.BudgetFor(tt.model))
		})
	}
}

package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dcshock/mlpipe/config"
	"github.com/dcshock/mlpipe/flow"
	"github.com/dcshock/mlpipe/internal/settings"
	"github.com/dcshock/mlpipe/pipeline"
	"github.com/dcshock/mlpipe/step"
	"github.com/dcshock/mlpipe/store"
	"github.com/dcshock/mlpipe/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store   *memory.Store
	modules *config.ModuleRegistry
	dir     string
	flaky   int // failures left for the "flaky" step
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: memory.New(), modules: config.NewModuleRegistry(), dir: t.TempDir()}
	add := func() *step.Step {
		return step.New("add", func(ctx context.Context, p step.Params, in any) (any, error) {
			n, err := step.As[int](in)
			if err != nil {
				return nil, err
			}
			return n + p.Int("amount", 1), nil
		}, nil)
	}
	h.modules.Register(config.NewModule("calc").
		AddPipeline(&flow.Definition{Name: "adder", Steps: []string{"first", "second"}}).
		AddStep("add", add).
		AddStep("flaky", func() *step.Step {
			return step.New("flaky", func(ctx context.Context, p step.Params, in any) (any, error) {
				if h.flaky > 0 {
					h.flaky--
					return nil, pipeline.RetryableErr(errors.New("not yet"))
				}
				return in, nil
			}, nil)
		}))
	return h
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	o := &rootOptions{
		modules: h.modules,
		openStore: func(context.Context, settings.StoreConfig) (store.Store, error) {
			return h.store, nil
		},
	}
	cmd := newRootCmd(o)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--settings", filepath.Join(h.dir, "settings.yaml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (h *harness) writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(h.dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const adderConfig = `
name: adder
steps:
  first:
    source: add
    parameters:
      amount: 2
  second:
    source: add
`

func TestPipelineRun_ThenList(t *testing.T) {
	h := newHarness(t)
	cfg := h.writeConfig(t, adderConfig)

	_, err := h.run(t, "pipeline", "run", "calc", "-c", cfg)
	require.NoError(t, err)

	out, err := h.run(t, "pipeline", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Running with active profile: 'default'")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Regexp(t, `^ID\s+NAME$`, lines[1])
	assert.True(t, strings.HasSuffix(lines[2], "adder"))

	out, err = h.run(t, "pipeline", "runs", "list")
	require.NoError(t, err)
	assert.Regexp(t, `PIPELINE\s+RUN`, out)
	assert.Regexp(t, `adder\s+adder-\d{2}_\w{3}_\d{2}-\d{2}_\d{2}_\d{2}_\d{6}`, out)

	out, err = h.run(t, "pipeline", "runs", "list", "adder", "-s", "local")
	require.NoError(t, err)
	assert.Contains(t, out, "adder-")

	// without a pipeline name the stack flag does not narrow the listing
	out, err = h.run(t, "pipeline", "runs", "list", "-s", "gpu")
	require.NoError(t, err)
	assert.Regexp(t, `adder\s+adder-`, out)
}

func TestPipelineRun_ConfigFileChecks(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "pipeline", "run", "calc", "-c", filepath.Join(h.dir, "missing.yaml"))
	assert.ErrorContains(t, err, "does not exist")

	_, err = h.run(t, "pipeline", "run", "calc", "-c", h.dir)
	assert.ErrorContains(t, err, "is a directory")

	_, err = h.run(t, "pipeline", "run", "calc")
	assert.ErrorContains(t, err, `required flag(s) "config" not set`)
}

func TestPipelineRun_ConfigurationErrors(t *testing.T) {
	h := newHarness(t)

	cfg := h.writeConfig(t, "name: subtract\nsteps: {}\n")
	_, err := h.run(t, "pipeline", "run", "calc", "-c", cfg)
	var cerr *config.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "Unable to load 'subtract' from module 'calc'", cerr.Msg)

	cfg = h.writeConfig(t, "name: adder\nsteps:\n  first:\n    source: add\n    materializers: [a]\n")
	_, err = h.run(t, "pipeline", "run", "calc", "-c", cfg)
	assert.ErrorContains(t, err, "Only `str` and `dict` values are allowed")

	_, err = h.run(t, "pipeline", "run", "nomodule", "-c", cfg)
	assert.ErrorContains(t, err, "no module named 'nomodule'")
}

func TestPipelineList_Empty(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "pipeline", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No pipelines found.\n")

	_, err = h.store.CreateProject(context.Background(), "vision")
	require.NoError(t, err)
	out, err = h.run(t, "pipeline", "list", "--project", "vision")
	require.NoError(t, err)
	assert.Contains(t, out, "No pipelines found for project 'vision'.\n")

	_, err = h.run(t, "pipeline", "list", "--project", "audio")
	assert.EqualError(t, err, "No such project: 'audio'")
}

func TestPipelineList_StackFilter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.CreateProject(ctx, "default")
	require.NoError(t, err)
	_, err = h.store.EnsurePipeline(ctx, "train", "gpu", "default")
	require.NoError(t, err)
	_, err = h.store.EnsurePipeline(ctx, "serve", "local", "default")
	require.NoError(t, err)

	out, err := h.run(t, "pipeline", "list", "-s", "gpu")
	require.NoError(t, err)
	assert.Contains(t, out, "train")
	assert.NotContains(t, out, "serve")
}

func TestRunsList_Errors(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "pipeline", "runs", "list", "ghost")
	assert.EqualError(t, err, "No pipeline named ghost found.")

	out, err := h.run(t, "pipeline", "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No pipeline runs found.\n")

	ctx := context.Background()
	_, err = h.store.CreateProject(ctx, "default")
	require.NoError(t, err)
	_, err = h.store.EnsurePipeline(ctx, "idle", "local", "default")
	require.NoError(t, err)
	out, err = h.run(t, "pipeline", "runs", "list", "idle")
	require.NoError(t, err)
	assert.Contains(t, out, "No pipeline runs found for pipeline 'idle'.\n")

	_, err = h.run(t, "pipeline", "runs", "list", "idle", "--stack", "gpu")
	assert.EqualError(t, err, "No pipeline named idle found.")
}

func TestRunsResume(t *testing.T) {
	h := newHarness(t)
	h.flaky = 1
	cfg := h.writeConfig(t, `
name: adder
steps:
  first:
    source: add
  second:
    source: flaky
    retry: fixed
    initial: 1ms
`)
	out, err := h.run(t, "pipeline", "run", "calc", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Pipeline run parked")

	ctx := context.Background()
	p, err := h.store.GetPipeline(ctx, "adder", "")
	require.NoError(t, err)
	runs, err := h.store.ListRuns(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.StatusParked, runs[0].Status)

	time.Sleep(5 * time.Millisecond)
	out, err = h.run(t, "pipeline", "runs", "resume", "calc", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Resumed 1 parked run(s) of pipeline 'adder'.")

	run, err := h.store.GetRun(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, run.Status)
}

func TestProfileFlag(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "settings.yaml"),
		[]byte("profiles:\n  ci:\n    store:\n      driver: memory\n"), 0o644))

	out, err := h.run(t, "--profile", "ci", "pipeline", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Running with active profile: 'ci'")

	_, err = h.run(t, "--profile", "nope", "pipeline", "list")
	assert.ErrorContains(t, err, "no such profile: 'nope'")
}

func TestSettingsWrittenOnFirstUse(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.dir, "settings.yaml")

	_, err := h.run(t, "pipeline", "list")
	require.NoError(t, err)

	s, err := settings.Load(path)
	require.NoError(t, err)
	assert.Equal(t, settings.DefaultProfile, s.ActiveProfile)
	p, err := s.Profile("")
	require.NoError(t, err)
	assert.Equal(t, settings.DefaultStack, p.Stack)
	assert.Equal(t, filepath.Join(h.dir, "mlpipe.db"), p.Store.DSN)

	// an existing file is left alone
	require.NoError(t, os.WriteFile(path, []byte("active_profile: ci\nprofiles:\n  ci:\n    store:\n      driver: memory\n"), 0o644))
	_, err = h.run(t, "pipeline", "list")
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "active_profile: ci\n"))
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	s, err := openStore(ctx, settings.StoreConfig{Driver: settings.DriverMemory})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	dsn := filepath.Join(t.TempDir(), "nested", "mlpipe.db")
	s, err = openStore(ctx, settings.StoreConfig{Driver: "sqlite3", DSN: dsn})
	require.NoError(t, err)
	defer s.Close()
	_, err = s.CreateProject(ctx, "default")
	require.NoError(t, err)
	assert.FileExists(t, dsn)
}

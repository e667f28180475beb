package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/7blacky7/ckptconv/checkpoint"
)

func stepDir(root string, n int) string {
	return filepath.Join(root, fmt.Sprintf("global_step_%d", n))
}

func newDriver(t *testing.T, opts Options) *Driver {
	t.Helper()
	d, err := NewDriver(opts)
	require.NoError(t, err)
	return d
}

func statuses(r *Report) []Status {
	out := make([]Status, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Status
	}
	return out
}

func TestDriverConvertsAndIsIdempotent(t *testing.T) {
	run := t.TempDir()
	_, out := makeCheckpoint(t, stepDir(run, 1), fixture{layout: checkpoint.LayoutWrapped, config: true})

	d := newDriver(t, Options{})
	first := d.Run(t.Context(), []string{run})
	require.Equal(t, 1, first.Attempted)
	require.Equal(t, []Status{StatusConverted}, statuses(first))
	assert.True(t, first.OK())

	res := first.Results[0]
	assert.True(t, res.Loaded)
	assert.Equal(t, 2, res.TensorCount)
	assert.Equal(t, filepath.Join(out, SafetensorsFile), res.Output.Path)

	f, err := os.Open(res.Output.Path)
	require.NoError(t, err)
	infos, meta, err := ReadSafetensorsHeader(f)
	f.Close()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "embed.weight", infos[0].Name)
	assert.Equal(t, "lm_head.weight", infos[1].Name)
	assert.Equal(t, "Qwen2ForCausalLM", meta["architecture"])
	assert.Equal(t, "pt", meta["format"])

	before, err := os.ReadFile(res.Output.Path)
	require.NoError(t, err)

	second := d.Run(t.Context(), []string{run})
	require.Equal(t, []Status{StatusAlreadyDone}, statuses(second))
	assert.False(t, second.Results[0].Loaded, "weights must not be loaded when output exists")
	assert.True(t, second.OK())

	after, err := os.ReadFile(res.Output.Path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDriverFailureIsolation(t *testing.T) {
	run := t.TempDir()
	makeCheckpoint(t, stepDir(run, 1), fixture{layout: checkpoint.LayoutWrapped, config: true})
	makeCheckpoint(t, stepDir(run, 2), fixture{layout: checkpoint.LayoutWrapped, config: true, corrupt: true})
	makeCheckpoint(t, stepDir(run, 3), fixture{layout: checkpoint.LayoutWrapped, config: true})

	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			for _, n := range []int{1, 3} {
				os.Remove(filepath.Join(stepDir(run, n), checkpoint.ActorDir, checkpoint.OutputSubdir, SafetensorsFile))
			}

			report := newDriver(t, Options{Workers: workers}).Run(t.Context(), []string{run})
			assert.Equal(t, 3, report.Attempted)
			assert.Equal(t, 2, report.Succeeded)
			assert.False(t, report.OK())
			assert.Equal(t, []Status{StatusConverted, StatusFailed, StatusConverted}, statuses(report))
			assert.Error(t, report.Results[1].Err)

			for _, n := range []int{1, 3} {
				assert.FileExists(t, filepath.Join(stepDir(run, n), checkpoint.ActorDir, checkpoint.OutputSubdir, SafetensorsFile))
			}
			assert.NoFileExists(t, filepath.Join(stepDir(run, 2), checkpoint.ActorDir, checkpoint.OutputSubdir, SafetensorsFile))
		})
	}
}

func TestDriverSkips(t *testing.T) {
	cases := []struct {
		name string
		fx   fixture
		want Status
	}{
		{"missing config", fixture{layout: checkpoint.LayoutWrapped}, StatusMissingConfig},
		{"no output dir", fixture{layout: checkpoint.LayoutWrapped, noOutput: true}, StatusNoOutputDir},
		{"no weights", fixture{layout: checkpoint.LayoutWrapped, config: true, shards: []string{}}, StatusNoWeights},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			run := t.TempDir()
			_, out := makeCheckpoint(t, stepDir(run, 5), tt.fx)

			report := newDriver(t, Options{}).Run(t.Context(), []string{run})
			require.Equal(t, []Status{tt.want}, statuses(report))
			assert.Equal(t, 0, report.Succeeded)
			assert.False(t, report.Results[0].Loaded)

			_, ok := Existing(out)
			assert.False(t, ok)
		})
	}
}

func TestDriverFlatLayout(t *testing.T) {
	run := t.TempDir()
	_, out := makeCheckpoint(t, stepDir(run, 7), fixture{layout: checkpoint.LayoutFlat, config: true})

	report := newDriver(t, Options{}).Run(t.Context(), []string{run})
	require.Equal(t, []Status{StatusConverted}, statuses(report))
	assert.Equal(t, checkpoint.LayoutFlat, report.Results[0].Checkpoint.Layout)
	assert.FileExists(t, filepath.Join(out, SafetensorsFile))
}

func TestDriverNesting(t *testing.T) {
	run := t.TempDir()
	inner := stateDict(true, f32Tensor(t, "module.w", []int{1}, 1))
	makeCheckpoint(t, stepDir(run, 1), fixture{layout: checkpoint.LayoutWrapped, config: true, shardValue: wrapped("model", inner)})
	makeCheckpoint(t, stepDir(run, 2), fixture{layout: checkpoint.LayoutWrapped, config: true, shardValue: wrapped("state_dict", inner)})

	report := newDriver(t, Options{}).Run(t.Context(), []string{run})
	require.True(t, report.OK())
	assert.Equal(t, NestingModelKey, report.Results[0].Nesting)
	assert.Equal(t, NestingStateDictKey, report.Results[1].Nesting)
}

func TestDriverAmbiguousShards(t *testing.T) {
	shards := []string{"model_world_size_2_rank_0.pt", "model_world_size_2_rank_1.pt"}

	t.Run("degraded", func(t *testing.T) {
		run := t.TempDir()
		makeCheckpoint(t, stepDir(run, 1), fixture{layout: checkpoint.LayoutWrapped, config: true, shards: shards})

		report := newDriver(t, Options{}).Run(t.Context(), []string{run})
		require.Equal(t, []Status{StatusConverted}, statuses(report))
		res := report.Results[0]
		assert.True(t, res.Degraded)
		assert.NotEmpty(t, res.Warnings)
		assert.Equal(t, shards[0], filepath.Base(res.Shard))
	})

	t.Run("strict", func(t *testing.T) {
		run := t.TempDir()
		makeCheckpoint(t, stepDir(run, 1), fixture{layout: checkpoint.LayoutWrapped, config: true, shards: shards})

		report := newDriver(t, Options{StrictShards: true}).Run(t.Context(), []string{run})
		require.Equal(t, []Status{StatusAmbiguousShards}, statuses(report))
		assert.False(t, report.Results[0].Loaded)
	})
}

func TestDriverDuplicateKeys(t *testing.T) {
	run := t.TempDir()
	value := stateDict(true,
		f32Tensor(t, "module.w", []int{1}, 1),
		f32Tensor(t, "_fsdp_wrapped_module.w", []int{1}, 2),
	)
	_, out := makeCheckpoint(t, stepDir(run, 1), fixture{layout: checkpoint.LayoutWrapped, config: true, shardValue: value})

	report := newDriver(t, Options{}).Run(t.Context(), []string{run})
	require.Equal(t, []Status{StatusFailed}, statuses(report))
	assert.ErrorIs(t, report.Results[0].Err, ErrDuplicateKey)

	_, ok := Existing(out)
	assert.False(t, ok)
}

func TestDriverDryRun(t *testing.T) {
	run := t.TempDir()
	_, out := makeCheckpoint(t, stepDir(run, 1), fixture{layout: checkpoint.LayoutWrapped, config: true})
	makeCheckpoint(t, stepDir(run, 2), fixture{layout: checkpoint.LayoutWrapped})

	report := newDriver(t, Options{DryRun: true}).Run(t.Context(), []string{run})
	assert.Equal(t, []Status{StatusReady, StatusMissingConfig}, statuses(report))
	assert.Equal(t, 1, report.Succeeded)

	for _, res := range report.Results {
		assert.False(t, res.Loaded)
	}
	_, ok := Existing(out)
	assert.False(t, ok)
}

func TestDriverRoots(t *testing.T) {
	parent := t.TempDir()
	makeCheckpoint(t, stepDir(filepath.Join(parent, "run_b"), 2), fixture{layout: checkpoint.LayoutWrapped, config: true})
	makeCheckpoint(t, stepDir(filepath.Join(parent, "run_a"), 10), fixture{layout: checkpoint.LayoutWrapped, config: true})
	makeCheckpoint(t, stepDir(filepath.Join(parent, "run_a"), 9), fixture{layout: checkpoint.LayoutWrapped, config: true})

	missing := filepath.Join(parent, "does-not-exist")

	var seen []string
	d := newDriver(t, Options{Workers: 2, OnResult: func(r Result) {
		seen = append(seen, r.Checkpoint.Path)
	}})

	report := d.Run(t.Context(), []string{missing, parent})
	assert.Equal(t, []string{missing}, report.MissingRoots)
	require.Equal(t, 3, report.Attempted)
	assert.True(t, report.OK())
	assert.Len(t, seen, 3)

	want := []string{
		stepDir(filepath.Join(parent, "run_a"), 9),
		stepDir(filepath.Join(parent, "run_a"), 10),
		stepDir(filepath.Join(parent, "run_b"), 2),
	}
	for i, res := range report.Results {
		assert.Equal(t, want[i], res.Checkpoint.Path)
	}
}

func TestDriverNothingFound(t *testing.T) {
	report := newDriver(t, Options{}).Run(t.Context(), []string{t.TempDir()})
	assert.Equal(t, 0, report.Attempted)
	assert.False(t, report.OK())

	report = newDriver(t, Options{}).Run(t.Context(), []string{filepath.Join(t.TempDir(), "missing")})
	assert.Equal(t, 0, report.Attempted)
	assert.Len(t, report.MissingRoots, 1)
}

func TestDriverCanceled(t *testing.T) {
	run := t.TempDir()
	_, out := makeCheckpoint(t, stepDir(run, 1), fixture{layout: checkpoint.LayoutWrapped, config: true})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	report := newDriver(t, Options{}).Run(ctx, []string{run})
	require.Equal(t, []Status{StatusFailed}, statuses(report))
	assert.ErrorIs(t, report.Results[0].Err, context.Canceled)

	_, ok := Existing(out)
	assert.False(t, ok)
}

func TestDriverPytorchOnly(t *testing.T) {
	run := t.TempDir()
	_, out := makeCheckpoint(t, stepDir(run, 1), fixture{layout: checkpoint.LayoutWrapped, config: true})

	report := newDriver(t, Options{Formats: []string{FormatPyTorch}}).Run(t.Context(), []string{run})
	require.Equal(t, []Status{StatusConverted}, statuses(report))
	assert.Equal(t, FormatPyTorch, report.Results[0].Output.Format)

	shard, err := LoadShard(filepath.Join(out, TorchFile))
	require.NoError(t, err)
	assert.Equal(t, []string{"embed.weight", "lm_head.weight"}, tensorNames(shard.Tensors))
}

func TestNewDriverNoFormats(t *testing.T) {
	_, err := NewDriver(Options{Formats: []string{"gguf"}})
	assert.ErrorIs(t, err, ErrFormatUnavailable)
}

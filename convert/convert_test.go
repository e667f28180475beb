package convert

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/7blacky7/ckptconv/checkpoint"
)

const testConfig = `{"architectures": ["Qwen2ForCausalLM"], "model_type": "qwen2", "torch_dtype": "bfloat16"}`

// f32 kodiert float32 Werte Little-Endian
func f32(vals ...float32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func f32Tensor(t *testing.T, name string, shape []int, vals ...float32) Tensor {
	t.Helper()
	tt, err := NewTensor(name, DTypeF32, shape, f32(vals...))
	require.NoError(t, err)
	return tt
}

// stateDict baut ein pickle Dict aus Tensoren
func stateDict(ordered bool, ts ...Tensor) *pyDict {
	d := &pyDict{ordered: ordered}
	for _, t := range ts {
		d.set(t.Name, t)
	}
	return d
}

// wrapped legt inner unter key in ein aeusseres Dict
func wrapped(key string, inner *pyDict) *pyDict {
	d := &pyDict{}
	d.set(key, inner)
	return d
}

// writeShard schreibt root als .pt Datei nach path
func writeShard(t *testing.T, path string, root *pyDict) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, writeTorchArchive(f, root))
}

// defaultShard ist ein FSDP State-Dict mit zwei Tensoren
func defaultShard(t *testing.T) *pyDict {
	return stateDict(true,
		f32Tensor(t, "module._fsdp_wrapped_module.embed.weight", []int{2, 2}, 1, 2, 3, 4),
		f32Tensor(t, "module.lm_head.weight", []int{2}, 5, 6),
	)
}

type fixture struct {
	layout     checkpoint.Layout
	shards     []string
	config     bool
	noOutput   bool
	corrupt    bool
	shardValue *pyDict
}

// makeCheckpoint legt ein Step-Verzeichnis gemaess fx an und gibt Gewichts- und Ausgabeverzeichnis zurueck
func makeCheckpoint(t *testing.T, dir string, fx fixture) (string, string) {
	t.Helper()

	weights := dir
	if fx.layout == checkpoint.LayoutWrapped {
		weights = filepath.Join(dir, checkpoint.ActorDir)
	}
	out := filepath.Join(weights, checkpoint.OutputSubdir)
	require.NoError(t, os.MkdirAll(weights, 0o755))

	if !fx.noOutput {
		require.NoError(t, os.MkdirAll(out, 0o755))
	}
	if fx.config {
		require.NoError(t, os.WriteFile(filepath.Join(out, "config.json"), []byte(testConfig), 0o644))
	}

	shards := fx.shards
	if shards == nil {
		shards = []string{checkpoint.CanonicalShard}
	}
	for _, name := range shards {
		p := filepath.Join(weights, name)
		if fx.corrupt {
			require.NoError(t, os.WriteFile(p, []byte("definitely not a torch checkpoint"), 0o644))
			continue
		}
		value := fx.shardValue
		if value == nil {
			value = defaultShard(t)
		}
		writeShard(t, p, value)
	}

	return weights, out
}

// checkpoint_test.go - Unit Tests fuer Layout-Erkennung und Checkpoint-Suche
//
// Testet Classify, Resolve, ParseStep und Locate auf temporaeren Verzeichnisbaeumen.
package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// mkdirs legt alle Verzeichnisse relativ zu root an
func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}
}

// touch legt leere Dateien relativ zu root an
func touch(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
}

func collect(t *testing.T, root string) []string {
	t.Helper()
	var paths []string
	for c, err := range Locate(root) {
		if err != nil {
			t.Fatalf("Locate: %v", err)
		}
		rel, err := filepath.Rel(root, c.Path)
		if err != nil {
			t.Fatal(err)
		}
		paths = append(paths, filepath.ToSlash(rel))
	}
	return paths
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		dirs  []string
		files []string
		want  Layout
	}{
		{"actor", []string{"actor"}, nil, LayoutWrapped},
		{"actor gewinnt", []string{"actor"}, []string{CanonicalShard}, LayoutWrapped},
		{"flat kanonisch", nil, []string{CanonicalShard}, LayoutFlat},
		{"flat multi-rank", nil, []string{"model_world_size_2_rank_1.pt"}, LayoutFlat},
		{"leer", nil, nil, LayoutNone},
		{"nur huggingface", []string{"huggingface"}, []string{"huggingface/config.json"}, LayoutNone},
		{"actor als Datei", nil, []string{"actor"}, LayoutNone},
		{"falsche Endung", nil, []string{"model_world_size_1_rank_0.bin"}, LayoutNone},
		{"Shard als Verzeichnis", []string{"model_world_size_1_rank_0.pt"}, nil, LayoutNone},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			mkdirs(t, dir, tt.dirs...)
			touch(t, dir, tt.files...)

			if got := Classify(dir); got != tt.want {
				t.Errorf("Classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	wrapped := filepath.Join(root, "global_step_7")
	flat := filepath.Join(root, "global_step_8")
	mkdirs(t, root, "global_step_7/actor")
	touch(t, root, "global_step_8/"+CanonicalShard)

	got := []Checkpoint{Resolve(wrapped), Resolve(flat), Resolve(root)}
	want := []Checkpoint{
		{
			Path: wrapped, Step: 7, Layout: LayoutWrapped,
			WeightsDir: filepath.Join(wrapped, "actor"),
			OutputDir:  filepath.Join(wrapped, "actor", "huggingface"),
		},
		{
			Path: flat, Step: 8, Layout: LayoutFlat,
			WeightsDir: flat,
			OutputDir:  filepath.Join(flat, "huggingface"),
		},
		{
			Path: root, Step: -1, Layout: LayoutNone,
			WeightsDir: root,
			OutputDir:  filepath.Join(root, "huggingface"),
		},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve mismatch (-want +got):\n%s", diff)
	}
}

func TestParseStep(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want bool
	}{
		{"global_step_0", 0, true},
		{"global_step_10", 10, true},
		{"global_step_007", 7, true},
		{"global_step_", 0, false},
		{"global_step_x", 0, false},
		{"global_step_10_old", 0, false},
		{"step_10", 0, false},
		{"global_step_99999999999999999999999", 0, false},
	}

	for _, tt := range cases {
		n, ok := ParseStep(tt.in)
		if ok != tt.want || n != tt.n {
			t.Errorf("ParseStep(%q) = %d, %v; want %d, %v", tt.in, n, ok, tt.n, tt.want)
		}
	}
}

func TestLocateNumericOrder(t *testing.T) {
	root := t.TempDir()
	for _, s := range []string{"global_step_9", "global_step_10", "global_step_2"} {
		mkdirs(t, root, s+"/actor")
	}
	mkdirs(t, root, "logs", "global_step_latest")

	got := collect(t, root)
	want := []string{"global_step_2", "global_step_9", "global_step_10"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Locate mismatch (-want +got):\n%s", diff)
	}
}

func TestLocateSelfIsCheckpoint(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "actor", "global_step_5/actor")

	var got []Checkpoint
	for c, err := range Locate(root) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, c)
	}

	if len(got) != 1 {
		t.Fatalf("erwartet 1 Checkpoint, bekam %d", len(got))
	}
	if got[0].Path != root || got[0].Layout != LayoutWrapped {
		t.Errorf("got %+v", got[0])
	}
}

func TestLocateFlatSelf(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "model_world_size_4_rank_0.pt")

	if diff := cmp.Diff([]string{"."}, collect(t, root)); diff != "" {
		t.Errorf("Locate mismatch (-want +got):\n%s", diff)
	}
}

func TestLocateParentOfRuns(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root,
		"sft_run/global_step_10",
		"sft_run/global_step_3",
		"grpo_run/global_step_20/actor",
		"grpo_run/global_step_100/actor",
		"empty_run",
	)
	touch(t, root, "README.md", "sft_run/global_step_10/"+CanonicalShard)

	got := collect(t, root)
	want := []string{
		"grpo_run/global_step_20",
		"grpo_run/global_step_100",
		"sft_run/global_step_3",
		"sft_run/global_step_10",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Locate mismatch (-want +got):\n%s", diff)
	}
}

func TestLocateSymlinkedRun(t *testing.T) {
	root := t.TempDir()
	target := t.TempDir()
	mkdirs(t, target, "global_step_1/actor")
	if err := os.Symlink(target, filepath.Join(root, "linked")); err != nil {
		t.Skipf("Symlink nicht unterstuetzt: %v", err)
	}

	if diff := cmp.Diff([]string{"linked/global_step_1"}, collect(t, root)); diff != "" {
		t.Errorf("Locate mismatch (-want +got):\n%s", diff)
	}
}

func TestLocateMissingRoot(t *testing.T) {
	var errs int
	for c, err := range Locate(filepath.Join(t.TempDir(), "fehlt")) {
		if err == nil {
			t.Fatalf("erwartete Fehler, bekam %+v", c)
		}
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("erwartete ErrNotExist, bekam %v", err)
		}
		errs++
	}
	if errs != 1 {
		t.Errorf("erwartet 1 Fehler, bekam %d", errs)
	}
}

func TestLocateStopsEarly(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "global_step_1", "global_step_2", "global_step_3")

	n := 0
	for range Locate(root) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("n = %d", n)
	}
}

func TestCheckpointName(t *testing.T) {
	c := Checkpoint{Path: filepath.Join("outputs", "grpo_run", "global_step_10")}
	if got, want := c.Name(), filepath.Join("grpo_run", "global_step_10"); got != want {
		t.Errorf("Name = %q, want %q", got, want)
	}
}

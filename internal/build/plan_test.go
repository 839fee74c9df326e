package build

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func setMtime(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestScanDir_FiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"blink.ino", "util.c", "driver.cpp", "boot.S",
		"readme.md", "blink.hex", ".hidden.c",
	} {
		touch(t, filepath.Join(dir, name))
	}
	if err := os.MkdirAll(filepath.Join(dir, "build-uno"), 0o755); err != nil {
		t.Fatal(err)
	}

	srcs, err := scanDir(dir)
	if err != nil {
		t.Fatalf("scanDir() error = %v", err)
	}
	want := []string{"blink.ino", "boot.S", "driver.cpp", "util.c"}
	if len(srcs) != len(want) {
		t.Fatalf("scanDir() = %v, want %d entries", srcs, len(want))
	}
	for i, w := range want {
		if filepath.Base(srcs[i]) != w {
			t.Errorf("scanDir()[%d] = %q, want %q", i, filepath.Base(srcs[i]), w)
		}
	}
}

func TestNewPlan_Layout(t *testing.T) {
	sketch := t.TempDir()
	core := t.TempDir()
	buildDir := filepath.Join(t.TempDir(), "out")
	touch(t, filepath.Join(sketch, "blink.ino"))
	touch(t, filepath.Join(core, "wiring.c"))
	touch(t, filepath.Join(core, "main.cpp"))

	p, err := NewPlan("blink", sketch, core, buildDir)
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}
	if len(p.Sketch) != 1 || len(p.Core) != 2 {
		t.Fatalf("plan units = %d sketch / %d core, want 1/2", len(p.Sketch), len(p.Core))
	}
	if p.Sketch[0].Lang != LangSketch {
		t.Errorf("sketch unit lang = %v, want LangSketch", p.Sketch[0].Lang)
	}
	if want := filepath.Join(buildDir, "blink.ino.o"); p.Sketch[0].Obj != want {
		t.Errorf("sketch obj = %q, want %q", p.Sketch[0].Obj, want)
	}
	if want := filepath.Join(buildDir, "core", "wiring.c.o"); p.Core[1].Obj != want {
		t.Errorf("core obj = %q, want %q", p.Core[1].Obj, want)
	}
	if want := filepath.Join(buildDir, "blink.hex"); p.Hex != want {
		t.Errorf("hex = %q, want %q", p.Hex, want)
	}
}

func TestNewPlan_EmptySketch(t *testing.T) {
	if _, err := NewPlan("x", t.TempDir(), t.TempDir(), t.TempDir()); err == nil {
		t.Error("NewPlan() with no sources expected error, got nil")
	}
}

func TestStale(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.c")
	obj := filepath.Join(dir, "a.c.o")
	touch(t, src)
	touch(t, obj)

	base := time.Now().Add(-time.Hour)
	setMtime(t, src, base)
	setMtime(t, obj, base.Add(time.Minute))
	if Stale(obj, src) {
		t.Error("Stale() = true for object newer than source")
	}

	setMtime(t, src, base.Add(2*time.Minute))
	if !Stale(obj, src) {
		t.Error("Stale() = false for source newer than object")
	}

	if !Stale(filepath.Join(dir, "missing.o"), src) {
		t.Error("Stale() = false for missing target")
	}
	if !Stale(obj, filepath.Join(dir, "missing.c")) {
		t.Error("Stale() = false for missing input")
	}
}

func TestStaleUnits(t *testing.T) {
	dir := t.TempDir()
	fresh := Unit{Src: filepath.Join(dir, "a.c"), Obj: filepath.Join(dir, "a.c.o")}
	stale := Unit{Src: filepath.Join(dir, "b.c"), Obj: filepath.Join(dir, "b.c.o")}
	touch(t, fresh.Src)
	touch(t, fresh.Obj)
	touch(t, stale.Src)

	base := time.Now().Add(-time.Hour)
	setMtime(t, fresh.Src, base)
	setMtime(t, fresh.Obj, base.Add(time.Minute))

	got := StaleUnits([]Unit{fresh, stale})
	if len(got) != 1 || got[0].Src != stale.Src {
		t.Errorf("StaleUnits() = %v, want only %s", got, stale.Src)
	}
}

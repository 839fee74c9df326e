package build

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/hwtools/avrmake/internal/toolchain"
)

const berkeleyOutput = "   text\t   data\t    bss\t    dec\t    hex\tfilename\n" +
	"    924\t     24\t    120\t   1068\t    42c\tblink.elf\n"

func TestParseSize_Berkeley(t *testing.T) {
	si, err := ParseSize([]byte(berkeleyOutput))
	if err != nil {
		t.Fatalf("ParseSize() error = %v", err)
	}
	if si.Text != 924 || si.Data != 24 || si.BSS != 120 {
		t.Errorf("ParseSize() = %+v, want text=924 data=24 bss=120", si)
	}
	if si.RAM() != 144 {
		t.Errorf("RAM() = %d, want 144", si.RAM())
	}
}

func TestParseSize_SkipsHeaderOnly(t *testing.T) {
	tests := []string{
		"",
		"   text\t   data\t    bss\t    dec\t    hex\tfilename\n",
		"avr-size: blink.elf: No such file\n",
	}
	for _, out := range tests {
		if _, err := ParseSize([]byte(out)); err == nil {
			t.Errorf("ParseSize(%q) expected error, got nil", out)
		}
	}
}

func TestRAMReport(t *testing.T) {
	si := &SizeInfo{Text: 924, Data: 24, BSS: 120}
	got := si.RAMReport(2048)
	for _, want := range []string{"144 bytes", "2048 bytes", "1904 bytes"} {
		if !strings.Contains(got, want) {
			t.Errorf("RAMReport(2048) = %q, missing %q", got, want)
		}
	}
	if got := si.RAMReport(0); strings.Contains(got, "Maximum") {
		t.Errorf("RAMReport(0) = %q, should omit maximum", got)
	}
}

func TestSizeCheckFits(t *testing.T) {
	si := &SizeInfo{Data: 1500, BSS: 700}
	if err := si.CheckFits(2048); err == nil {
		t.Error("CheckFits() expected error for oversized globals, got nil")
	}
	if err := si.CheckFits(0); err != nil {
		t.Errorf("CheckFits(0) error = %v, want nil", err)
	}
	si = &SizeInfo{Data: 24, BSS: 120}
	if err := si.CheckFits(2048); err != nil {
		t.Errorf("CheckFits() error = %v, want nil", err)
	}
}

func TestReadSize_RunsTool(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	dir := t.TempDir()
	script := "#!/bin/sh\nprintf '" +
		"   text\\t   data\\t    bss\\t    dec\\t    hex\\tfilename\\n" +
		"    924\\t     24\\t    120\\t   1068\\t    42c\\t%s\\n' \"$1\"\n"
	fake := filepath.Join(dir, toolchain.Size)
	if err := os.WriteFile(fake, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	run := &toolchain.Runner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	si, err := ReadSize(context.Background(), toolchain.New(dir), run, "blink.elf")
	if err != nil {
		t.Fatalf("ReadSize() error = %v", err)
	}
	if si.Text != 924 || si.Data != 24 || si.BSS != 120 {
		t.Errorf("ReadSize() = %+v, want text=924 data=24 bss=120", si)
	}
}

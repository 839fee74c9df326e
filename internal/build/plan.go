package build

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Lang selects the compiler front end for a translation unit.
type Lang int

const (
	LangC Lang = iota
	LangCXX
	LangSketch // .ino/.pde, compiled as C++ with Arduino.h pre-included
	LangASM
)

// Unit is one translation unit: a source file and the object it
// compiles to.
type Unit struct {
	Src  string
	Obj  string
	Lang Lang
}

// Plan is the full set of build steps for a sketch: what to compile,
// what to archive, and the final artifacts.
type Plan struct {
	Sketch  []Unit // the user's sources
	Core    []Unit // hardware-support library sources
	Archive string // libcore.a
	ELF     string
	Hex     string
	EEP     string
}

var sourceExts = map[string]Lang{
	".c":   LangC,
	".cpp": LangCXX,
	".cc":  LangCXX,
	".ino": LangSketch,
	".pde": LangSketch,
	".S":   LangASM,
}

// scanDir returns the compilable sources directly inside dir, sorted.
// Subdirectories (including build output dirs) are not descended into.
func scanDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	var srcs []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, ok := sourceExts[filepath.Ext(e.Name())]; ok {
			srcs = append(srcs, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(srcs)
	return srcs, nil
}

func unitsFor(srcs []string, objDir string) []Unit {
	units := make([]Unit, 0, len(srcs))
	for _, src := range srcs {
		base := filepath.Base(src)
		obj := filepath.Join(objDir, base+".o")
		units = append(units, Unit{Src: src, Obj: obj, Lang: sourceExts[filepath.Ext(src)]})
	}
	return units
}

// NewPlan lays out the build: sketch sources from sketchDir, core
// sources from coreDir, objects and artifacts under buildDir. The
// sketch must contain at least one source file.
func NewPlan(name, sketchDir, coreDir, buildDir string) (*Plan, error) {
	sketchSrcs, err := scanDir(sketchDir)
	if err != nil {
		return nil, err
	}
	if len(sketchSrcs) == 0 {
		return nil, fmt.Errorf("no sketch sources (*.ino, *.c, *.cpp, *.S) in %s", sketchDir)
	}
	coreSrcs, err := scanDir(coreDir)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		Sketch:  unitsFor(sketchSrcs, buildDir),
		Core:    unitsFor(coreSrcs, filepath.Join(buildDir, "core")),
		Archive: filepath.Join(buildDir, "libcore.a"),
		ELF:     filepath.Join(buildDir, name+".elf"),
		Hex:     filepath.Join(buildDir, name+".hex"),
		EEP:     filepath.Join(buildDir, name+".eep"),
	}
	return p, nil
}

// Stale reports whether target must be rebuilt: it is missing, or any
// of the inputs is newer than it.
func Stale(target string, inputs ...string) bool {
	ti, err := os.Stat(target)
	if err != nil {
		return true
	}
	for _, in := range inputs {
		si, err := os.Stat(in)
		if err != nil {
			return true
		}
		if si.ModTime().After(ti.ModTime()) {
			return true
		}
	}
	return false
}

// StaleUnits filters units down to those whose object is out of date.
func StaleUnits(units []Unit) []Unit {
	var stale []Unit
	for _, u := range units {
		if Stale(u.Obj, u.Src) {
			stale = append(stale, u)
		}
	}
	return stale
}

// Objects returns the object paths of a unit list.
func Objects(units []Unit) []string {
	objs := make([]string, len(units))
	for i, u := range units {
		objs[i] = u.Obj
	}
	return objs
}

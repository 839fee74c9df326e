package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/hwtools/avrmake/internal/toolchain"
)

// Options carries everything the builder needs: resolved board
// parameters, SDK paths and user flags.
type Options struct {
	Name       string // artifact base name (sketch name)
	SketchDir  string
	BuildDir   string
	CoreDir    string
	VariantDir string

	MCU            string // -mmcu value, e.g. atmega328p
	FCPU           string // -DF_CPU value, e.g. 16000000L
	BoardDefine    string // -DARDUINO_<...> value, e.g. AVR_UNO (optional)
	ArduinoVersion int    // -DARDUINO value

	ExtraCFlags   []string
	ExtraCXXFlags []string
	ExtraLDFlags  []string

	Jobs    int // parallel compile limit, 0 = NumCPU
	Verbose bool
}

// Builder compiles a sketch against the hardware-support core and
// produces the flashable images. Stages run in a fixed order and the
// first failing tool invocation aborts the rest.
type Builder struct {
	opts Options
	tc   *toolchain.Toolchain
	run  *toolchain.Runner
	plan *Plan
}

// New prepares a Builder. The plan is laid out immediately so source
// scanning problems surface before any tool runs.
func New(opts Options, tc *toolchain.Toolchain, run *toolchain.Runner) (*Builder, error) {
	plan, err := NewPlan(opts.Name, opts.SketchDir, opts.CoreDir, opts.BuildDir)
	if err != nil {
		return nil, err
	}
	return &Builder{opts: opts, tc: tc, run: run, plan: plan}, nil
}

// Plan exposes the laid-out build plan (artifact paths).
func (b *Builder) Plan() *Plan {
	return b.plan
}

// Build runs the staged sequence: compile, archive, link, objcopy.
// Steps whose outputs are up to date against their inputs are skipped.
func (b *Builder) Build(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(b.opts.BuildDir, "core"), 0o755); err != nil {
		return fmt.Errorf("failed to create build directory: %w", err)
	}
	if err := b.compile(ctx); err != nil {
		return err
	}
	if err := b.archive(ctx); err != nil {
		return err
	}
	if err := b.link(ctx); err != nil {
		return err
	}
	if err := b.objcopy(ctx); err != nil {
		return err
	}
	return nil
}

// commonFlags are the compile flags shared by every front end.
func (b *Builder) commonFlags() []string {
	flags := []string{
		"-c",
		"-g", "-Os", "-w",
		"-ffunction-sections", "-fdata-sections",
		"-mmcu=" + b.opts.MCU,
		"-DF_CPU=" + b.opts.FCPU,
		fmt.Sprintf("-DARDUINO=%d", b.opts.ArduinoVersion),
		"-DARDUINO_ARCH_AVR",
		"-I" + b.opts.CoreDir,
	}
	if b.opts.BoardDefine != "" {
		flags = append(flags, "-DARDUINO_"+b.opts.BoardDefine)
	}
	if b.opts.VariantDir != "" {
		flags = append(flags, "-I"+b.opts.VariantDir)
	}
	return flags
}

// CompileCommand assembles the compiler invocation for one unit.
// Exported for tests; the command is tool path + args.
func (b *Builder) CompileCommand(u Unit) (tool string, args []string) {
	flags := b.commonFlags()
	switch u.Lang {
	case LangC:
		tool = toolchain.GCC
		flags = append(flags, "-std=gnu11")
		flags = append(flags, b.opts.ExtraCFlags...)
	case LangASM:
		tool = toolchain.GCC
		flags = append(flags, "-x", "assembler-with-cpp")
		flags = append(flags, b.opts.ExtraCFlags...)
	case LangSketch:
		tool = toolchain.GXX
		flags = append(flags, "-std=gnu++11", "-fno-exceptions", "-fno-threadsafe-statics",
			"-x", "c++", "-include", "Arduino.h")
		flags = append(flags, b.opts.ExtraCXXFlags...)
	default:
		tool = toolchain.GXX
		flags = append(flags, "-std=gnu++11", "-fno-exceptions", "-fno-threadsafe-statics")
		flags = append(flags, b.opts.ExtraCXXFlags...)
	}
	args = append(flags, u.Src, "-o", u.Obj)
	return tool, args
}

// compile builds all stale translation units, independent units in
// parallel. Output is serialized through the runner's stderr; a
// progress bar tracks units unless verbose mode is on.
func (b *Builder) compile(ctx context.Context) error {
	units := append(StaleUnits(b.plan.Sketch), StaleUnits(b.plan.Core)...)
	if len(units) == 0 {
		fmt.Println("Nothing to compile, objects are up to date")
		return nil
	}
	fmt.Printf("Compiling %d file(s) for %s\n", len(units), b.opts.MCU)

	var bar *progressbar.ProgressBar
	if !b.opts.Verbose {
		bar = progressbar.NewOptions(len(units),
			progressbar.OptionSetDescription("Compiling"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100),
			progressbar.OptionClearOnFinish(),
		)
	}

	jobs := b.opts.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for _, u := range units {
		u := u
		g.Go(func() error {
			tool, args := b.CompileCommand(u)
			path, err := b.tc.Find(tool)
			if err != nil {
				return err
			}
			if err := b.run.Run(ctx, path, args...); err != nil {
				return fmt.Errorf("compiling %s: %w", filepath.Base(u.Src), err)
			}
			if bar != nil {
				mu.Lock()
				bar.Add(1)
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()
	if bar != nil {
		bar.Finish()
	}
	return err
}

// archive collects the core objects into libcore.a.
func (b *Builder) archive(ctx context.Context) error {
	if len(b.plan.Core) == 0 {
		return nil
	}
	objs := Objects(b.plan.Core)
	if !Stale(b.plan.Archive, objs...) {
		return nil
	}
	ar, err := b.tc.Find(toolchain.AR)
	if err != nil {
		return err
	}
	// Rebuild from scratch so removed members don't linger.
	if err := os.Remove(b.plan.Archive); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale archive: %w", err)
	}
	args := append([]string{"rcs", b.plan.Archive}, objs...)
	if err := b.run.Run(ctx, ar, args...); err != nil {
		return fmt.Errorf("archiving core: %w", err)
	}
	return nil
}

// LinkCommand assembles the linker invocation. Exported for tests.
func (b *Builder) LinkCommand() (args []string) {
	args = []string{
		"-Os", "-w",
		"-mmcu=" + b.opts.MCU,
		"-Wl,--gc-sections",
		"-o", b.plan.ELF,
	}
	args = append(args, Objects(b.plan.Sketch)...)
	if len(b.plan.Core) > 0 {
		args = append(args, b.plan.Archive)
	}
	args = append(args, "-lm")
	args = append(args, b.opts.ExtraLDFlags...)
	return args
}

func (b *Builder) link(ctx context.Context) error {
	inputs := Objects(b.plan.Sketch)
	if len(b.plan.Core) > 0 {
		inputs = append(inputs, b.plan.Archive)
	}
	if !Stale(b.plan.ELF, inputs...) {
		return nil
	}
	gcc, err := b.tc.Find(toolchain.GCC)
	if err != nil {
		return err
	}
	fmt.Printf("Linking %s\n", filepath.Base(b.plan.ELF))
	if err := b.run.Run(ctx, gcc, b.LinkCommand()...); err != nil {
		return fmt.Errorf("linking: %w", err)
	}
	return nil
}

// objcopy converts the linked ELF into the flash image (.hex) and the
// EEPROM image (.eep).
func (b *Builder) objcopy(ctx context.Context) error {
	objcopy, err := b.tc.Find(toolchain.Objcopy)
	if err != nil {
		return err
	}
	if Stale(b.plan.Hex, b.plan.ELF) {
		fmt.Printf("Writing %s\n", filepath.Base(b.plan.Hex))
		err := b.run.Run(ctx, objcopy,
			"-O", "ihex", "-R", ".eeprom", b.plan.ELF, b.plan.Hex)
		if err != nil {
			return fmt.Errorf("converting to hex: %w", err)
		}
	}
	if Stale(b.plan.EEP, b.plan.ELF) {
		err := b.run.Run(ctx, objcopy,
			"-O", "ihex", "-j", ".eeprom",
			"--set-section-flags=.eeprom=alloc,load",
			"--no-change-warnings", "--change-section-lma", ".eeprom=0",
			b.plan.ELF, b.plan.EEP)
		if err != nil {
			return fmt.Errorf("converting eeprom image: %w", err)
		}
	}
	return nil
}

// Clean removes the build output directory.
func Clean(buildDir string) error {
	if err := os.RemoveAll(buildDir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", buildDir, err)
	}
	return nil
}

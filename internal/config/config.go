package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFile is the optional per-sketch configuration file, in dotenv
// format, read from the sketch directory.
const EnvFile = "avrmake.env"

// Config is the resolved tool configuration. Values come from, in
// increasing precedence: built-in defaults, the avrmake.env file,
// the process environment, command-line flags (applied by the caller
// after Load).
type Config struct {
	SketchDir string

	ArduinoDir     string // SDK root (ARDUINO_DIR)
	AVRToolsDir    string // toolchain root, optional (AVR_TOOLS_DIR)
	BoardTag       string // boards.txt tag (BOARD_TAG)
	BoardSub       string // cpu submenu variant (BOARD_SUB)
	Port           string // upload/monitor serial device (MONITOR_PORT)
	MonitorBaud    int    // monitor speed (MONITOR_BAUDRATE)
	BuildDir       string // object/output directory (BUILD_DIR)
	AvrdudeConf    string // explicit avrdude.conf (AVRDUDE_CONF)
	ArduinoVersion int    // value for -DARDUINO= (ARDUINO_VERSION)

	// Overrides for values normally resolved from boards.txt.
	MCU         string // MCU
	FCPU        string // F_CPU
	Programmer  string // AVRDUDE_ARD_PROGRAMMER
	UploadSpeed string // AVRDUDE_ARD_BAUDRATE

	ExtraCFlags   []string // EXTRA_CFLAGS
	ExtraCXXFlags []string // EXTRA_CXXFLAGS
	ExtraLDFlags  []string // EXTRA_LDFLAGS
}

// Load resolves the configuration for a sketch directory. The env
// file is optional; the process environment always wins over it.
func Load(sketchDir string) (*Config, error) {
	abs, err := filepath.Abs(sketchDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sketch directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("sketch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sketch path %s is not a directory", abs)
	}

	fileVals := map[string]string{}
	envPath := filepath.Join(abs, EnvFile)
	if _, err := os.Stat(envPath); err == nil {
		fileVals, err = godotenv.Read(envPath)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", envPath, err)
		}
	}

	get := func(key, fallback string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		if v, ok := fileVals[key]; ok {
			return v
		}
		return fallback
	}

	cfg := &Config{
		SketchDir:   abs,
		ArduinoDir:  get("ARDUINO_DIR", ""),
		AVRToolsDir: get("AVR_TOOLS_DIR", ""),
		BoardTag:    get("BOARD_TAG", "uno"),
		BoardSub:    get("BOARD_SUB", ""),
		Port:        get("MONITOR_PORT", ""),
		BuildDir:    get("BUILD_DIR", ""),
		AvrdudeConf: get("AVRDUDE_CONF", ""),
		MCU:         get("MCU", ""),
		FCPU:        get("F_CPU", ""),
		Programmer:  get("AVRDUDE_ARD_PROGRAMMER", ""),
		UploadSpeed: get("AVRDUDE_ARD_BAUDRATE", ""),
	}

	cfg.MonitorBaud, err = atoiDefault(get("MONITOR_BAUDRATE", ""), 9600)
	if err != nil {
		return nil, fmt.Errorf("bad MONITOR_BAUDRATE: %w", err)
	}
	cfg.ArduinoVersion, err = atoiDefault(get("ARDUINO_VERSION", ""), 10819)
	if err != nil {
		return nil, fmt.Errorf("bad ARDUINO_VERSION: %w", err)
	}

	cfg.ExtraCFlags = splitFlags(get("EXTRA_CFLAGS", ""))
	cfg.ExtraCXXFlags = splitFlags(get("EXTRA_CXXFLAGS", ""))
	cfg.ExtraLDFlags = splitFlags(get("EXTRA_LDFLAGS", ""))

	return cfg, nil
}

func atoiDefault(s string, fallback int) (int, error) {
	if s == "" {
		return fallback, nil
	}
	return strconv.Atoi(s)
}

func splitFlags(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// SketchName is the sketch's name, taken from its directory, used to
// name the build artifacts.
func (c *Config) SketchName() string {
	return filepath.Base(c.SketchDir)
}

// EffectiveBuildDir returns the build output directory, defaulting to
// build-<board>[-<sub>] inside the sketch directory.
func (c *Config) EffectiveBuildDir() string {
	if c.BuildDir != "" {
		return c.BuildDir
	}
	name := "build-" + c.BoardTag
	if c.BoardSub != "" {
		name += "-" + c.BoardSub
	}
	return filepath.Join(c.SketchDir, name)
}

// AVRHardwareDir is the SDK directory holding boards.txt, cores/ and
// variants/ for the AVR platform.
func (c *Config) AVRHardwareDir() string {
	if c.ArduinoDir == "" {
		return ""
	}
	return filepath.Join(c.ArduinoDir, "hardware", "arduino", "avr")
}

// BoardsFile returns the SDK's boards.txt path, or "" without an SDK.
func (c *Config) BoardsFile() string {
	if dir := c.AVRHardwareDir(); dir != "" {
		return filepath.Join(dir, "boards.txt")
	}
	return ""
}

// CoreDir returns the SDK source directory for a core, e.g. "arduino".
func (c *Config) CoreDir(core string) string {
	return filepath.Join(c.AVRHardwareDir(), "cores", core)
}

// VariantDir returns the SDK pin-mapping directory for a variant.
func (c *Config) VariantDir(variant string) string {
	return filepath.Join(c.AVRHardwareDir(), "variants", variant)
}

// ValidateSDK checks that the directories a build needs exist. Each
// missing path aborts with a message naming it.
func (c *Config) ValidateSDK(core, variant string) error {
	if c.ArduinoDir == "" {
		return fmt.Errorf("ARDUINO_DIR is not set (point it at your Arduino SDK installation)")
	}
	for _, p := range []struct{ what, path string }{
		{"SDK directory", c.ArduinoDir},
		{"AVR platform directory", c.AVRHardwareDir()},
		{"core directory", c.CoreDir(core)},
		{"variant directory", c.VariantDir(variant)},
	} {
		info, err := os.Stat(p.path)
		if err != nil {
			return fmt.Errorf("%s not found: %s", p.what, p.path)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory: %s", p.what, p.path)
		}
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, EnvFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BoardTag != "uno" {
		t.Errorf("BoardTag = %q, want %q", cfg.BoardTag, "uno")
	}
	if cfg.MonitorBaud != 9600 {
		t.Errorf("MonitorBaud = %d, want 9600", cfg.MonitorBaud)
	}
	if cfg.BoardSub != "" || cfg.Port != "" {
		t.Errorf("BoardSub/Port = %q/%q, want empty", cfg.BoardSub, cfg.Port)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	writeEnvFile(t, dir, "BOARD_TAG=mega2560\nMONITOR_BAUDRATE=115200\nEXTRA_CFLAGS=-g -DDEBUG\n")
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BoardTag != "mega2560" {
		t.Errorf("BoardTag = %q, want %q", cfg.BoardTag, "mega2560")
	}
	if cfg.MonitorBaud != 115200 {
		t.Errorf("MonitorBaud = %d, want 115200", cfg.MonitorBaud)
	}
	want := []string{"-g", "-DDEBUG"}
	if len(cfg.ExtraCFlags) != 2 || cfg.ExtraCFlags[0] != want[0] || cfg.ExtraCFlags[1] != want[1] {
		t.Errorf("ExtraCFlags = %v, want %v", cfg.ExtraCFlags, want)
	}
}

func TestLoad_ProcessEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	writeEnvFile(t, dir, "BOARD_TAG=mega2560\n")
	t.Setenv("BOARD_TAG", "leonardo")
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BoardTag != "leonardo" {
		t.Errorf("BoardTag = %q, want %q", cfg.BoardTag, "leonardo")
	}
}

func TestLoad_BadBaudRate(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MONITOR_BAUDRATE", "fast")
	if _, err := Load(dir); err == nil {
		t.Error("Load() expected error for non-numeric MONITOR_BAUDRATE, got nil")
	}
}

func TestLoad_MissingSketchDir(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Load() expected error for missing sketch dir, got nil")
	}
}

func TestEffectiveBuildDir(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cfg.BoardTag = "pro"
	cfg.BoardSub = "8MHzatmega328"
	got := cfg.EffectiveBuildDir()
	want := filepath.Join(cfg.SketchDir, "build-pro-8MHzatmega328")
	if got != want {
		t.Errorf("EffectiveBuildDir() = %q, want %q", got, want)
	}

	cfg.BuildDir = "/tmp/out"
	if got := cfg.EffectiveBuildDir(); got != "/tmp/out" {
		t.Errorf("EffectiveBuildDir() with BUILD_DIR = %q, want /tmp/out", got)
	}
}

func TestSDKPaths(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.ArduinoDir = "/opt/arduino"

	if got := cfg.BoardsFile(); got != filepath.Join("/opt/arduino", "hardware", "arduino", "avr", "boards.txt") {
		t.Errorf("BoardsFile() = %q", got)
	}
	if got := cfg.CoreDir("arduino"); !strings.HasSuffix(got, filepath.Join("cores", "arduino")) {
		t.Errorf("CoreDir() = %q", got)
	}
	if got := cfg.VariantDir("standard"); !strings.HasSuffix(got, filepath.Join("variants", "standard")) {
		t.Errorf("VariantDir() = %q", got)
	}
}

func TestValidateSDK(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cfg.ArduinoDir = ""
	if err := cfg.ValidateSDK("arduino", "standard"); err == nil {
		t.Error("ValidateSDK() with empty ARDUINO_DIR expected error, got nil")
	}

	sdk := t.TempDir()
	cfg.ArduinoDir = sdk
	if err := cfg.ValidateSDK("arduino", "standard"); err == nil {
		t.Error("ValidateSDK() with empty SDK tree expected error, got nil")
	}

	for _, sub := range []string{
		filepath.Join("hardware", "arduino", "avr", "cores", "arduino"),
		filepath.Join("hardware", "arduino", "avr", "variants", "standard"),
	} {
		if err := os.MkdirAll(filepath.Join(sdk, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := cfg.ValidateSDK("arduino", "standard"); err != nil {
		t.Errorf("ValidateSDK() with full SDK tree error = %v", err)
	}
}

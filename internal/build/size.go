package build

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hwtools/avrmake/internal/toolchain"
)

// SizeInfo holds the section sizes avr-size reports for a linked ELF.
// Flash holds .text plus the initialized data copied there; RAM is
// what the globals occupy at runtime.
type SizeInfo struct {
	Text int
	Data int
	BSS  int
}

// RAM returns the static RAM footprint (data + bss).
func (s *SizeInfo) RAM() int {
	return s.Data + s.BSS
}

// ReadSize runs avr-size on the ELF and parses its report.
func ReadSize(ctx context.Context, tc *toolchain.Toolchain, run *toolchain.Runner, elfPath string) (*SizeInfo, error) {
	size, err := tc.Find(toolchain.Size)
	if err != nil {
		return nil, err
	}
	out, err := run.Output(ctx, size, elfPath)
	if err != nil {
		return nil, fmt.Errorf("reading section sizes: %w", err)
	}
	return ParseSize(out)
}

// ParseSize extracts text/data/bss from avr-size's Berkeley-format
// output: a header line followed by one row of numbers per file.
func ParseSize(out []byte) (*SizeInfo, error) {
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		text, err1 := strconv.Atoi(fields[0])
		data, err2 := strconv.Atoi(fields[1])
		bss, err3 := strconv.Atoi(fields[2])
		if err1 == nil && err2 == nil && err3 == nil {
			return &SizeInfo{Text: text, Data: data, BSS: bss}, nil
		}
	}
	return nil, fmt.Errorf("unrecognized avr-size output: %q", strings.TrimSpace(string(out)))
}

// RAMReport formats the dynamic-memory summary. maxData is the
// board's RAM capacity in bytes; 0 means unknown.
func (s *SizeInfo) RAMReport(maxData int) string {
	ram := s.RAM()
	if maxData > 0 {
		pct := float64(ram) * 100 / float64(maxData)
		return fmt.Sprintf("Global variables use %d bytes (%.0f%%) of dynamic memory, leaving %d bytes for local variables. Maximum is %d bytes.",
			ram, pct, maxData-ram, maxData)
	}
	return fmt.Sprintf("Global variables use %d bytes of dynamic memory.", ram)
}

// CheckFits returns an error when the globals exceed the board's RAM.
// maxData of 0 disables the check.
func (s *SizeInfo) CheckFits(maxData int) error {
	if maxData > 0 && s.RAM() > maxData {
		return fmt.Errorf("not enough memory: %d bytes of global variables exceed the board's %d byte RAM", s.RAM(), maxData)
	}
	return nil
}

package hexfile

import (
	"fmt"
	"os"

	"github.com/marcinbor85/gohex"
)

// Stats describes the flash image held in an Intel HEX file.
type Stats struct {
	Bytes    int    // total payload bytes
	Start    uint32 // lowest used address
	End      uint32 // one past the highest used address
	Segments int
}

// Stat parses an Intel HEX file and reports how much flash it uses.
func Stat(path string) (*Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open hex file: %w", err)
	}
	defer f.Close()

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	st := &Stats{}
	first := true
	for _, seg := range mem.GetDataSegments() {
		st.Segments++
		st.Bytes += len(seg.Data)
		end := seg.Address + uint32(len(seg.Data))
		if first || seg.Address < st.Start {
			st.Start = seg.Address
		}
		if first || end > st.End {
			st.End = end
		}
		first = false
	}
	return st, nil
}

// Report formats a one-line usage summary. maxSize is the board's
// flash capacity in bytes; 0 means unknown.
func (s *Stats) Report(maxSize int) string {
	if maxSize > 0 {
		pct := float64(s.Bytes) * 100 / float64(maxSize)
		return fmt.Sprintf("Sketch uses %d bytes (%.0f%%) of program storage space. Maximum is %d bytes.",
			s.Bytes, pct, maxSize)
	}
	return fmt.Sprintf("Sketch uses %d bytes of program storage space.", s.Bytes)
}

// CheckFits returns an error when the image exceeds the board's
// flash capacity. maxSize of 0 disables the check.
func (s *Stats) CheckFits(maxSize int) error {
	if maxSize > 0 && s.Bytes > maxSize {
		return fmt.Errorf("sketch too big: %d bytes exceeds the board's %d byte maximum", s.Bytes, maxSize)
	}
	return nil
}

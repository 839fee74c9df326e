package upload

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hwtools/avrmake/internal/serial"
	"github.com/hwtools/avrmake/internal/toolchain"
)

// Options describes one avrdude upload, assembled from the board's
// parameters plus any user overrides.
type Options struct {
	Port     string // empty means auto-detect
	MCU      string // -p part, e.g. atmega328p
	Protocol string // -c programmer, e.g. arduino, wiring, avr109
	Speed    string // -b baud rate; empty omits the flag
	Conf     string // -C avrdude.conf; empty uses avrdude's default
	HexPath  string

	// Reset behavior, from boards.txt.
	Use1200bpsTouch  bool
	WaitForPort      bool
	NoErase          bool // pass -D (wiring/mega boards)
	PortWaitDeadline time.Duration

	Verbose bool
}

// Upload resets the board as its bootloader requires, then invokes
// avrdude to write the flash image. An avrdude failure propagates its
// exit code through the returned error.
func Upload(ctx context.Context, tc *toolchain.Toolchain, run *toolchain.Runner, opts Options) error {
	port := opts.Port
	if port == "" {
		var err error
		port, err = DetectPort()
		if err != nil {
			return err
		}
		fmt.Printf("Using autodetected port %s\n", port)
	}

	if opts.Use1200bpsTouch {
		fmt.Printf("Touching %s at 1200 baud\n", port)
		before, _ := serial.ListPorts()
		if err := serial.Touch1200(port); err != nil {
			return err
		}
		if opts.WaitForPort {
			newPort, err := waitForNewPort(ctx, before, opts.portWait())
			if err == nil && newPort != "" {
				port = newPort
				fmt.Printf("Bootloader port appeared: %s\n", port)
			}
			// The original port staying put is fine; the bootloader
			// on some boards keeps the same device name.
		} else {
			time.Sleep(500 * time.Millisecond)
		}
	} else {
		resetOverSerial(port)
	}

	avrdude, err := tc.Find(toolchain.Avrdude)
	if err != nil {
		return err
	}
	args := Args(opts, port)
	if err := run.Run(ctx, avrdude, args...); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

// Args assembles the avrdude command line for an upload.
func Args(opts Options, port string) []string {
	args := []string{
		"-q", "-V",
		"-p", opts.MCU,
		"-c", opts.Protocol,
		"-P", port,
	}
	if opts.Verbose {
		args[0] = "-v"
	}
	if opts.Conf != "" {
		args = append(args, "-C", opts.Conf)
	}
	if opts.Speed != "" {
		args = append(args, "-b", opts.Speed)
	}
	if opts.NoErase {
		args = append(args, "-D")
	}
	args = append(args, "-U", "flash:w:"+opts.HexPath+":i")
	return args
}

func (o Options) portWait() time.Duration {
	if o.PortWaitDeadline > 0 {
		return o.PortWaitDeadline
	}
	return 10 * time.Second
}

// resetOverSerial pulses DTR/RTS so boards with an auto-reset circuit
// enter their bootloader. Failures are not fatal: avrdude's own open
// usually resets such boards anyway.
func resetOverSerial(portName string) {
	p, err := serial.Open(portName, 115200)
	if err != nil {
		return
	}
	defer p.Close()
	p.PulseReset()
}

// portRank orders candidate ports by how likely they are to be a
// board: USB CDC devices first, USB-serial bridges next, everything
// else last.
func portRank(name string) int {
	switch {
	case strings.Contains(name, "ttyACM"),
		strings.Contains(name, "cu.usbmodem"),
		strings.Contains(name, "tty.usbmodem"):
		return 0
	case strings.Contains(name, "ttyUSB"),
		strings.Contains(name, "cu.usbserial"),
		strings.Contains(name, "tty.usbserial"),
		strings.Contains(name, "COM"):
		return 1
	default:
		return 2
	}
}

// DetectPort picks the most plausible upload port from the system's
// serial port list.
func DetectPort() (string, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return "", fmt.Errorf("failed to list serial ports: %w", err)
	}
	if len(ports) == 0 {
		return "", fmt.Errorf("no serial ports found (connect the board or set MONITOR_PORT)")
	}
	sort.SliceStable(ports, func(i, j int) bool {
		return portRank(ports[i]) < portRank(ports[j])
	})
	return ports[0], nil
}

// waitForNewPort polls the port list until a port not present in
// before shows up, or the deadline passes. Returns "" when nothing
// new appeared.
func waitForNewPort(ctx context.Context, before []string, deadline time.Duration) (string, error) {
	known := make(map[string]bool, len(before))
	for _, p := range before {
		known[p] = true
	}
	timeout := time.After(deadline)
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timeout:
			return "", nil
		case <-tick.C:
			ports, err := serial.ListPorts()
			if err != nil {
				continue
			}
			for _, p := range ports {
				if !known[p] {
					return p, nil
				}
			}
		}
	}
}

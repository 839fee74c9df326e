package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Port is the serial connection the monitor pumps bytes through.
// *serial.Port satisfies it.
type Port interface {
	io.ReadWriteCloser
	PortName() string
	BaudRate() int
}

// Run pumps a raw serial monitor over an opened port: bytes from the
// port go to out, bytes from in go to the port. It returns when the
// context is cancelled, either stream hits EOF, or a copy fails. The
// port is closed on return.
func Run(ctx context.Context, port Port, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Monitoring %s at %d baud (Ctrl-C to exit)\n", port.PortName(), port.BaudRate())

	errc := make(chan error, 2)
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := port.Read(buf)
			if n > 0 {
				if _, werr := out.Write(buf[:n]); werr != nil {
					errc <- werr
					return
				}
			}
			if err != nil {
				errc <- err
				return
			}
		}
	}()
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				if _, werr := port.Write(buf[:n]); werr != nil {
					errc <- werr
					return
				}
			}
			if err != nil {
				errc <- err
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		port.Close()
		return nil
	case err := <-errc:
		port.Close()
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("monitor: %w", err)
	}
}

package capture

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/SmitUplenchwar2687/tlog/internal/packet"
)

// relayBufSize is the read size of both relay directions.
const relayBufSize = 32 * 1024

// Relay runs a command on a pseudo-terminal, copies the user's terminal to
// and from it, and reports every byte and geometry change to an Engine.
type Relay struct {
	Engine *Engine
	Stdin  *os.File
	Stdout io.Writer
}

// Run starts cmd on a new pseudo-terminal and relays until it exits. When
// Stdin is a terminal it is put in raw mode and restored before Run
// returns. The returned code is the command's exit status.
func (r *Relay) Run(ctx context.Context, cmd *exec.Cmd) (int, error) {
	fd := int(r.Stdin.Fd())
	interactive := term.IsTerminal(fd)

	var size *pty.Winsize
	if interactive {
		if cols, rows, err := term.GetSize(fd); err == nil {
			size = &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}
		}
	}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return -1, err
	}
	defer ptmx.Close()

	if size != nil {
		r.Engine.Resize(packet.Window{Cols: size.Cols, Rows: size.Rows})
	}

	if interactive {
		old, err := term.MakeRaw(fd)
		if err != nil {
			return -1, err
		}
		defer func() {
			if err := term.Restore(fd, old); err != nil {
				log.Printf("[capture] restoring terminal: %v", err)
			}
		}()

		winch := make(chan os.Signal, 1)
		signal.Notify(winch, unix.SIGWINCH)
		stop := make(chan struct{})
		defer func() {
			signal.Stop(winch)
			close(stop)
		}()
		go r.watchSize(ctx, stop, winch, ptmx)
	}

	stopR, stopW, err := os.Pipe()
	if err != nil {
		return -1, err
	}
	defer stopR.Close()
	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		r.copyInput(ptmx, stopR)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.copyOutput(ptmx)
	}()

	// The output side ends once the command and everything holding the
	// terminal have exited.
	wg.Wait()
	err = cmd.Wait()

	// Stop reading the user's terminal so keys typed from now on go to
	// whoever reads it next.
	stopW.Close()
	ptmx.Close()
	<-inputDone

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

// copyInput forwards the user's keys to ptmx until Stdin ends or stop
// becomes readable. It polls before each read so it never sits in a read
// that outlives the relay.
func (r *Relay) copyInput(ptmx, stop *os.File) {
	fds := []unix.PollFd{
		{Fd: int32(r.Stdin.Fd()), Events: unix.POLLIN},
		{Fd: int32(stop.Fd()), Events: unix.POLLIN},
	}
	buf := make([]byte, relayBufSize)
	for {
		fds[0].Revents, fds[1].Revents = 0, 0
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			log.Printf("[capture] polling input: %v", err)
			return
		}
		if fds[1].Revents != 0 {
			return
		}
		if fds[0].Revents == 0 {
			continue
		}
		n, err := r.Stdin.Read(buf)
		if n > 0 {
			if _, werr := ptmx.Write(buf[:n]); werr != nil {
				return
			}
			r.Engine.Input(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (r *Relay) copyOutput(ptmx *os.File) {
	buf := make([]byte, relayBufSize)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			if _, werr := r.Stdout.Write(buf[:n]); werr != nil {
				log.Printf("[capture] writing to terminal: %v", werr)
			}
			r.Engine.Output(buf[:n])
		}
		if err != nil {
			// EIO once the last slave descriptor closes.
			return
		}
	}
}

func (r *Relay) watchSize(ctx context.Context, stop <-chan struct{}, winch <-chan os.Signal, ptmx *os.File) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-winch:
			if err := pty.InheritSize(r.Stdin, ptmx); err != nil {
				log.Printf("[capture] resizing pty: %v", err)
				continue
			}
			ws, err := pty.GetsizeFull(ptmx)
			if err != nil {
				continue
			}
			r.Engine.Resize(packet.Window{Cols: ws.Cols, Rows: ws.Rows})
		}
	}
}

package serial

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Defaults used when a Config field is left zero.
const (
	DefaultDevice      = "/dev/ttyACM0"
	DefaultBaudRate    = 115200
	DefaultDelimiter   = "\n"
	DefaultReadTimeout = 10 * time.Second
)

// ErrClosed is returned by I/O on a Session after Close.
var ErrClosed = errors.New("serial session closed")

// Session is an exclusively owned connection to a board's serial console.
// Only one process may hold the device at a time, so every Session must be
// closed before the process exits. Close unblocks a pending ReadTimeout.
type Session struct {
	fd        int
	file      *os.File
	done      chan struct{}
	closeOnce sync.Once
	config    Config
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd
}

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device      string
	BaudRate    int
	Delimiter   string        // default "\n"
	ReadTimeout time.Duration // upper bound for a single read, default 10s
}

func (c Config) withDefaults() Config {
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.Delimiter == "" {
		c.Delimiter = DefaultDelimiter
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	return c
}

// Open opens the serial device named by cfg in raw 8N1 mode and discards any
// stale input and output so earlier board chatter cannot leak into a test.
func Open(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	baud, ok := baudToUnix(cfg.BaudRate)
	if !ok {
		return nil, fmt.Errorf("unsupported baud rate %d", cfg.BaudRate)
	}

	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS
	termios.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud
	termios.Ispeed = baud
	termios.Ospeed = baud

	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set termios: %w", err)
	}

	// Reads are gated by poll, so the descriptor itself can block.
	if err := syscall.SetNonblock(fd, false); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set blocking: %w", err)
	}

	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("flush buffers: %w", err)
	}

	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	return &Session{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), cfg.Device),
		done:   make(chan struct{}),
		config: cfg,
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
	}, nil
}

// Config returns the effective configuration, defaults applied.
func (s *Session) Config() Config {
	return s.config
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Write writes p to the serial port.
func (s *Session) Write(p []byte) (int, error) {
	if s.closed() {
		return 0, ErrClosed
	}
	return s.file.Write(p)
}

// WriteLine writes a line followed by newline. An empty newline uses the
// configured delimiter.
func (s *Session) WriteLine(line string, newline string) error {
	if newline == "" {
		newline = s.config.Delimiter
	}
	_, err := s.Write([]byte(line + newline))
	return err
}

// ReadTimeout waits up to timeout for data and reads what is available into p.
// It returns 0, nil when the timeout elapses with nothing to read. A timeout
// of zero or less uses the configured ReadTimeout.
func (s *Session) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if s.closed() {
		return 0, ErrClosed
	}
	if timeout <= 0 {
		timeout = s.config.ReadTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		ms := int(time.Until(deadline) / time.Millisecond)
		if ms < 0 {
			ms = 0
		}
		pfd := []unix.PollFd{
			{Fd: int32(s.fd), Events: unix.POLLIN},
			{Fd: int32(s.pipeR), Events: unix.POLLIN},
		}
		n, err := unix.Poll(pfd, ms)
		if err == unix.EINTR {
			if ms == 0 {
				return 0, nil
			}
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, nil
		}
		if pfd[1].Revents != 0 || s.closed() {
			return 0, ErrClosed
		}
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			return s.file.Read(p)
		}
	}
}

// SendBreak holds the line in the break condition for d. A break drops a
// running board image back to its console.
func (s *Session) SendBreak(d time.Duration) error {
	if s.closed() {
		return ErrClosed
	}
	if err := unix.IoctlSetInt(s.fd, unix.TIOCSBRK, 0); err != nil {
		return fmt.Errorf("set break: %w", err)
	}
	time.Sleep(d)
	if err := unix.IoctlSetInt(s.fd, unix.TIOCCBRK, 0); err != nil {
		return fmt.Errorf("clear break: %w", err)
	}
	return nil
}

// ResetInput discards data received but not yet read.
func (s *Session) ResetInput() error {
	return s.flush(unix.TCIFLUSH)
}

// ResetOutput discards data written but not yet transmitted.
func (s *Session) ResetOutput() error {
	return s.flush(unix.TCOFLUSH)
}

func (s *Session) flush(queue int) error {
	if s.closed() {
		return ErrClosed
	}
	if err := unix.IoctlSetInt(s.fd, unix.TCFLSH, queue); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close flushes pending output, releases the device and unblocks any
// ReadTimeout in progress. Safe to call multiple times; subsequent calls are
// no-ops.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = unix.IoctlSetInt(s.fd, unix.TCFLSH, unix.TCOFLUSH)
		close(s.done)
		// Wake up poll using self-pipe
		unix.Write(s.pipeW, []byte{1})
		err = s.file.Close()
		unix.Close(s.pipeR)
		unix.Close(s.pipeW)
	})
	return err
}

func baudToUnix(baud int) (uint32, bool) {
	switch baud {
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	case 460800:
		return unix.B460800, true
	case 921600:
		return unix.B921600, true
	default:
		return 0, false
	}
}

// Package modbuscheck verifies the Modbus/TCP server a board container
// exposes: a control register must round-trip every value written to it and
// an event counter register must start at zero.
package modbuscheck

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goburrow/modbus"
	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrUnreachable      = errors.New("modbus host unreachable")
	ErrNotConnected     = errors.New("modbus not connected")
	ErrRegisterMismatch = errors.New("modbus register mismatch")
)

// Client is the subset of modbus.Client the check uses.
type Client interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

// Conn is a connected client that must be closed.
type Conn interface {
	Client
	Close() error
}

// Dialer connects to the server described by cfg.
type Dialer func(cfg Config) (Conn, error)

// Config describes the server and the register sequence to verify.
type Config struct {
	Host    string
	Port    int
	SlaveID byte
	Timeout time.Duration
	// Wait after each write before reading back
	Settle time.Duration
	// Ping the host before connecting
	Ping bool

	ControlRegister uint16
	CounterRegister uint16
	ControlInitial  uint16
	ControlWrites   []uint16
	CounterExpected uint16
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type tcpConn struct {
	modbus.Client
	handler *modbus.TCPClientHandler
}

func (c *tcpConn) Close() error {
	return c.handler.Close()
}

// DialTCP opens a Modbus/TCP connection.
func DialTCP(cfg Config) (Conn, error) {
	handler := modbus.NewTCPClientHandler(cfg.Address())
	handler.Timeout = cfg.Timeout
	handler.SlaveId = cfg.SlaveID

	if err := handler.Connect(); err != nil {
		handler.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrNotConnected, cfg.Address(), err)
	}
	return &tcpConn{Client: modbus.NewClient(handler), handler: handler}, nil
}

// Ping sends a single unprivileged ICMP echo and reports whether it was
// answered within timeout.
func Ping(host string, timeout time.Duration) error {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return err
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(false) // UDP-based, no root needed

	if err := pinger.Run(); err != nil {
		return err
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("no reply from %s", host)
	}
	return nil
}

// Report is what the check observed.
type Report struct {
	Address string
	Control []uint16
	Counter uint16
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "modbus server %s\n", r.Address)
	fmt.Fprintf(&b, "control register sequence: %v\n", r.Control)
	fmt.Fprintf(&b, "counter register: %d\n", r.Counter)
	return b.String()
}

// Checker runs the register round-trip.
type Checker struct {
	Config Config
	// Dial defaults to DialTCP
	Dial Dialer
	// Ping defaults to the package Ping
	Ping  func(host string, timeout time.Duration) error
	Log   *zap.Logger
	Sleep func(time.Duration)
}

// Expected is the control register sequence a healthy server reads back.
func (c Config) Expected() []uint16 {
	return append([]uint16{c.ControlInitial}, c.ControlWrites...)
}

// Run connects, exercises the control register and reads the counter. The
// connection is closed on every path. Nothing is retried.
func (c *Checker) Run() (rep Report, err error) {
	cfg := c.Config
	rep.Address = cfg.Address()
	log := c.logger().With(zap.String("address", rep.Address))

	if cfg.Ping {
		ping := c.Ping
		if ping == nil {
			ping = Ping
		}
		if perr := ping(cfg.Host, cfg.Timeout); perr != nil {
			return rep, fmt.Errorf("%w: %w", ErrUnreachable, perr)
		}
	}

	dial := c.Dial
	if dial == nil {
		dial = DialTCP
	}
	conn, err := dial(cfg)
	if err != nil {
		if !errors.Is(err, ErrNotConnected) {
			err = fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		return rep, err
	}
	defer func() {
		err = multierr.Append(err, conn.Close())
	}()
	log.Info("connected")

	v, err := readRegister(conn, cfg.ControlRegister)
	if err != nil {
		return rep, err
	}
	rep.Control = append(rep.Control, v)

	for _, w := range cfg.ControlWrites {
		log.Info("writing control register", zap.Uint16("register", cfg.ControlRegister), zap.Uint16("value", w))
		if _, err := conn.WriteSingleRegister(cfg.ControlRegister, w); err != nil {
			return rep, fmt.Errorf("write register %d: %w", cfg.ControlRegister, err)
		}
		c.sleep(cfg.Settle)
		v, err := readRegister(conn, cfg.ControlRegister)
		if err != nil {
			return rep, err
		}
		rep.Control = append(rep.Control, v)
	}
	log.Info("control register sequence", zap.Any("values", rep.Control))

	if want := cfg.Expected(); !slices.Equal(rep.Control, want) {
		return rep, fmt.Errorf("%w: control register %d read %v, want %v",
			ErrRegisterMismatch, cfg.ControlRegister, rep.Control, want)
	}

	rep.Counter, err = readRegister(conn, cfg.CounterRegister)
	if err != nil {
		return rep, err
	}
	if rep.Counter != cfg.CounterExpected {
		return rep, fmt.Errorf("%w: counter register %d read %d, want %d",
			ErrRegisterMismatch, cfg.CounterRegister, rep.Counter, cfg.CounterExpected)
	}
	return rep, nil
}

func (c *Checker) sleep(d time.Duration) {
	if c.Sleep != nil {
		c.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (c *Checker) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

func readRegister(client Client, address uint16) (uint16, error) {
	results, err := client.ReadHoldingRegisters(address, 1)
	if err != nil {
		return 0, fmt.Errorf("read register %d: %w", address, err)
	}
	if len(results) < 2 {
		return 0, fmt.Errorf("read register %d: short response (%d bytes)", address, len(results))
	}
	return binary.BigEndian.Uint16(results), nil
}

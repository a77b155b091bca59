package modbuscheck

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// registers is an in-memory holding register bank. stuck registers ignore
// writes, like a server whose LED handler never ran.
type registers struct {
	mu     sync.Mutex
	values map[uint16]uint16
	stuck  map[uint16]bool
	closes int
}

func newRegisters() *registers {
	return &registers{values: map[uint16]uint16{}, stuck: map[uint16]bool{}}
}

func (r *registers) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, 2*quantity)
	for i := uint16(0); i < quantity; i++ {
		binary.BigEndian.PutUint16(out[2*i:], r.values[address+i])
	}
	return out, nil
}

func (r *registers) WriteSingleRegister(address, value uint16) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stuck[address] {
		r.values[address] = value
	}
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, value)
	return out, nil
}

func (r *registers) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

func defaultConfig() Config {
	return Config{
		Host:            "board.local",
		Port:            1502,
		ControlRegister: 0,
		CounterRegister: 1,
		ControlWrites:   []uint16{1, 2, 0},
	}
}

func checker(regs *registers, cfg Config) *Checker {
	return &Checker{
		Config: cfg,
		Dial:   func(Config) (Conn, error) { return regs, nil },
		Sleep:  func(time.Duration) {},
	}
}

func TestChecker_RoundTrip(t *testing.T) {
	regs := newRegisters()

	rep, err := checker(regs, defaultConfig()).Run()
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 1, 2, 0}, rep.Control)
	assert.Equal(t, uint16(0), rep.Counter)
	assert.Equal(t, 1, regs.closes)
	assert.Contains(t, rep.String(), "[0 1 2 0]")
}

func TestChecker_StuckControlRegister(t *testing.T) {
	regs := newRegisters()
	regs.stuck[0] = true

	rep, err := checker(regs, defaultConfig()).Run()
	require.ErrorIs(t, err, ErrRegisterMismatch)
	assert.Equal(t, []uint16{0, 0, 0, 0}, rep.Control)
	assert.Equal(t, 1, regs.closes)
}

func TestChecker_CounterNotZero(t *testing.T) {
	regs := newRegisters()
	regs.values[1] = 3

	rep, err := checker(regs, defaultConfig()).Run()
	require.ErrorIs(t, err, ErrRegisterMismatch)
	assert.Equal(t, uint16(3), rep.Counter)
	assert.Equal(t, 1, regs.closes)
}

func TestChecker_DialFailure(t *testing.T) {
	c := &Checker{
		Config: defaultConfig(),
		Dial:   func(Config) (Conn, error) { return nil, errors.New("connection refused") },
	}

	_, err := c.Run()
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestChecker_PingFailureStopsBeforeDial(t *testing.T) {
	cfg := defaultConfig()
	cfg.Ping = true
	dialed := false
	c := &Checker{
		Config: cfg,
		Ping:   func(string, time.Duration) error { return errors.New("no reply") },
		Dial: func(Config) (Conn, error) {
			dialed = true
			return newRegisters(), nil
		},
	}

	_, err := c.Run()
	require.ErrorIs(t, err, ErrUnreachable)
	assert.False(t, dialed)
}

func TestChecker_SettlesAfterEachWrite(t *testing.T) {
	cfg := defaultConfig()
	cfg.Settle = 5 * time.Second
	var slept []time.Duration
	c := checker(newRegisters(), cfg)
	c.Sleep = func(d time.Duration) { slept = append(slept, d) }

	_, err := c.Run()
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, slept)
}

// serveModbusTCP answers read holding registers (0x03) and write single
// register (0x06) requests from regs on one accepted connection.
func serveModbusTCP(t *testing.T, regs *registers) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		header := make([]byte, 7)
		for {
			if _, err := io.ReadFull(conn, header); err != nil {
				return
			}
			pdu := make([]byte, int(binary.BigEndian.Uint16(header[4:]))-1)
			if _, err := io.ReadFull(conn, pdu); err != nil {
				return
			}
			var resp []byte
			address := binary.BigEndian.Uint16(pdu[1:])
			switch pdu[0] {
			case 0x03:
				data, _ := regs.ReadHoldingRegisters(address, binary.BigEndian.Uint16(pdu[3:]))
				resp = append([]byte{0x03, byte(len(data))}, data...)
			case 0x06:
				regs.WriteSingleRegister(address, binary.BigEndian.Uint16(pdu[3:]))
				resp = pdu
			default:
				resp = []byte{pdu[0] | 0x80, 0x01}
			}
			out := make([]byte, 7, 7+len(resp))
			copy(out, header[:4])
			binary.BigEndian.PutUint16(out[4:], uint16(len(resp)+1))
			out[6] = header[6]
			if _, err := conn.Write(append(out, resp...)); err != nil {
				return
			}
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p
}

func TestChecker_OverTCP(t *testing.T) {
	regs := newRegisters()
	host, port := serveModbusTCP(t, regs)

	cfg := defaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.SlaveID = 1
	cfg.Timeout = 2 * time.Second

	rep, err := (&Checker{Config: cfg, Sleep: func(time.Duration) {}}).Run()
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 1, 2, 0}, rep.Control)
}

func TestDialTCP_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	_, err = DialTCP(Config{Host: "127.0.0.1", Port: addr.Port, Timeout: time.Second})
	require.ErrorIs(t, err, ErrNotConnected)
}

// Package device provides access to the measurement board's serial console:
// a UTF-8 line stream carrying sweep section markers and CSV data rows, plus
// a binary command channel for starting a sweep. The package exposes the
// stream as a channel of trimmed lines so protocol parsing stays independent
// of the transport.
package device

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the rate of the board's console UART.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size for the lines channel buffer.
	DefaultBufferSize = 256
)

// Command frame layout: [start][cmd][data1:4][data2:4][data3:4][end],
// all multi-byte fields little-endian.
const (
	cmdStartByte        = 0xAA
	cmdEndByte          = 0x55
	cmdStartMeasurement = 0x03
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial represents a connection to the measurement board.
type Serial struct {
	port     string
	baudRate int
	bufSize  int

	conn      serial.Port
	lines     chan string
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
}

// New creates a new Serial instance for the specified port, baud rate, and
// line buffer size.
func New(port string, baudRate int, bufSize int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:      port,
		baudRate:  baudRate,
		bufSize:   bufSize,
		lines:     make(chan string, bufSize),
		ctx:       ctx,
		cancel:    cancel,
		connected: false,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{
			Name:        name,
			Description: name,
		})
	}

	return result, nil
}

// Connect opens the serial port and starts reading lines.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	mode := &serial.Mode{
		BaudRate: d.baudRate,
	}

	port, err := serial.Open(d.port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = port
	d.connected = true

	// Start reading lines in a goroutine
	go d.readLines()

	return nil
}

// Close closes the connection and stops reading lines. Closing the port is
// the only way to unblock a reader mid-sweep.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.cancel()

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			log.Printf("Error closing serial port: %v", err)
		}
		d.conn = nil
	}

	d.connected = false

	close(d.lines)

	return nil
}

// Lines returns the channel carrying received console lines, trimmed, with
// empty lines dropped.
func (d *Serial) Lines() <-chan string {
	return d.lines
}

// StartSweep sends the START_MEASUREMENT command frame to the board.
func (d *Serial) StartSweep(numDUTs int) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return fmt.Errorf("not connected")
	}

	if _, err := d.conn.Write(startCommand(numDUTs)); err != nil {
		return fmt.Errorf("failed to send start command: %w", err)
	}

	return nil
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// startCommand builds the fixed 15-byte START_MEASUREMENT frame.
func startCommand(numDUTs int) []byte {
	frame := make([]byte, 0, 15)
	frame = append(frame, cmdStartByte, cmdStartMeasurement)
	frame = binary.LittleEndian.AppendUint32(frame, uint32(numDUTs))
	frame = binary.LittleEndian.AppendUint32(frame, 0)
	frame = binary.LittleEndian.AppendUint32(frame, 0)
	frame = append(frame, cmdEndByte)
	return frame
}

// readLines reads lines from the serial port and forwards them to the
// lines channel.
func (d *Serial) readLines() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic in readLines: %v", r)
		}
	}()

	scanner := bufio.NewScanner(d.conn)
	for {
		select {
		case <-d.ctx.Done():
			return
		default:
			if !scanner.Scan() {
				// Scanner stopped (EOF or error)
				if err := scanner.Err(); err != nil {
					if err != io.EOF {
						log.Printf("Error reading from serial port: %v", err)
					}
				}
				return
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			select {
			case d.lines <- line:
			case <-d.ctx.Done():
				return
			}
		}
	}
}

// LinesFromReader adapts any line-oriented text stream (e.g. a captured
// sweep log on disk) to the same channel contract as a live device. The
// channel is closed at EOF.
func LinesFromReader(r io.Reader) <-chan string {
	out := make(chan string, DefaultBufferSize)

	go func() {
		defer close(out)

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			out <- line
		}
		if err := scanner.Err(); err != nil {
			log.Printf("Error reading lines: %v", err)
		}
	}()

	return out
}

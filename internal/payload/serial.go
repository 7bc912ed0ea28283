package payload

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// SerialDeployer talks to a servo controller over a serial line. Each deploy
// writes "DEPLOY <slot>" and expects "OK <slot>" back.
type SerialDeployer struct {
	mu      sync.Mutex
	port    io.ReadWriteCloser
	lines   chan string
	timeout time.Duration
}

func OpenSerial(portName string, baudRate int, timeout time.Duration) (*SerialDeployer, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, errors.WithMessagef(err, "open %s", portName)
	}

	return NewSerialDeployer(port, timeout), nil
}

// NewSerialDeployer wraps an already opened line and starts reading it.
func NewSerialDeployer(port io.ReadWriteCloser, timeout time.Duration) *SerialDeployer {
	d := &SerialDeployer{port: port, lines: make(chan string, 16), timeout: timeout}
	go d.monitor()
	return d
}

// monitor forwards controller lines until the port is closed.
func (d *SerialDeployer) monitor() {
	defer close(d.lines)
	scan := bufio.NewScanner(d.port)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		select {
		case d.lines <- line:
		default:
			log.Printf("PAYLOAD: Dropping controller line %q", line)
		}
	}
	if err := scan.Err(); err != nil {
		log.Printf("PAYLOAD: Serial read failed: %v", err)
	}
}

func (d *SerialDeployer) Deploy(ctx context.Context, slot int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	d.discardStale()

	log.Printf("PAYLOAD: Deploying slot %d over serial", slot)
	if _, err := fmt.Fprintf(d.port, "DEPLOY %d\n", slot); err != nil {
		return errors.WithMessagef(err, "write deploy %d", slot)
	}

	want := fmt.Sprintf("OK %d", slot)
	timeout := time.NewTimer(d.timeout)
	defer timeout.Stop()
	for {
		select {
		case line, ok := <-d.lines:
			if !ok {
				return errors.New("serial line closed")
			}
			if line == want {
				return nil
			}
			if strings.HasPrefix(line, "ERR") {
				return errors.Errorf("controller refused slot %d: %s", slot, line)
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return errors.Errorf("no acknowledgement for slot %d within %v", slot, d.timeout)
		}
	}
}

func (d *SerialDeployer) discardStale() {
	for {
		select {
		case _, ok := <-d.lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (d *SerialDeployer) Close() error {
	return d.port.Close()
}

// Package serialimu reads a line-oriented IMU stream from a serial
// port. Frames look like
//
//	$IMU,<stamp_s>,<gx>,<gy>,<gz>,<ax>,<ay>,<az>
//
// with angular rates in rad/s and accelerations in the sensor's raw
// unit. Malformed lines are skipped without stalling the stream.
package serialimu

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.bug.st/serial"

	"github.com/banshee-data/odometry.report/internal/lio"
)

const framePrefix = "$IMU"

// ParseLine decodes one IMU frame.
func ParseLine(line string) (lio.ImuSample, error) {
	var m lio.ImuSample
	line = strings.TrimSpace(line)
	fields := strings.Split(line, ",")
	if len(fields) != 8 || fields[0] != framePrefix {
		return m, fmt.Errorf("malformed imu frame: %q", line)
	}
	vals := make([]float64, 7)
	for i := 0; i < 7; i++ {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return m, fmt.Errorf("field %d of %q: %w", i+1, line, err)
		}
		vals[i] = v
	}
	m.Stamp = vals[0]
	m.Gyro = lio.V3{vals[1], vals[2], vals[3]}
	m.Acc = lio.V3{vals[4], vals[5], vals[6]}
	return m, nil
}

// FormatLine encodes a sample as one frame, for recorders and tests.
func FormatLine(m lio.ImuSample) string {
	return fmt.Sprintf("%s,%.9f,%.9g,%.9g,%.9g,%.9g,%.9g,%.9g",
		framePrefix, m.Stamp, m.Gyro[0], m.Gyro[1], m.Gyro[2], m.Acc[0], m.Acc[1], m.Acc[2])
}

// Port streams IMU samples from a serial device.
type Port struct {
	port serial.Port
	name string
}

// Open opens the serial device at the conventional IMU link settings.
func Open(portName string, baudRate int) (*Port, error) {
	if baudRate == 0 {
		baudRate = 115200
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	return &Port{port: port, name: portName}, nil
}

// Close closes the serial port.
func (p *Port) Close() error { return p.port.Close() }

// Stream parses frames from the port and hands them to fn until the
// context is cancelled or the port fails.
func (p *Port) Stream(ctx context.Context, fn func(lio.ImuSample)) error {
	return stream(ctx, p.port, p.name, fn)
}

// stream is split from Port so tests can feed it any reader.
func stream(ctx context.Context, r io.Reader, name string, fn func(lio.ImuSample)) error {
	sc := bufio.NewScanner(r)
	dropped := 0
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m, err := ParseLine(sc.Text())
		if err != nil {
			dropped++
			if dropped%100 == 1 {
				lio.Diagf("serial %s: %v (%d dropped)", name, err, dropped)
			}
			continue
		}
		fn(m)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("serial %s: %w", name, err)
	}
	return nil
}

// Package network carries the engine's sensor inputs: a UDP listener
// for live streams and a pcap replay source for recorded ones. Both
// speak the same compact datagram framing for cloud chunks and IMU
// samples.
package network

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/odometry.report/internal/lio"
	"github.com/banshee-data/odometry.report/internal/lio/l1preprocess"
)

// Datagram type markers.
const (
	msgCloud = 'L'
	msgImu   = 'I'
)

const (
	cloudHeaderSize = 1 + 8 + 4
	pointSize       = 4*4 + 8 + 1
	imuMsgSize      = 1 + 8 + 6*8
)

// EncodeImu frames one IMU sample into a datagram payload.
func EncodeImu(m lio.ImuSample) []byte {
	buf := make([]byte, imuMsgSize)
	buf[0] = msgImu
	binary.LittleEndian.PutUint64(buf[1:], uint64(int64(m.Stamp*1e9)))
	off := 9
	for _, v := range []float64{m.Gyro[0], m.Gyro[1], m.Gyro[2], m.Acc[0], m.Acc[1], m.Acc[2]} {
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
		off += 8
	}
	return buf
}

// EncodeCloud frames a raw cloud into a datagram payload.
func EncodeCloud(rc *l1preprocess.RawCloud) []byte {
	buf := make([]byte, cloudHeaderSize+pointSize*len(rc.Points))
	buf[0] = msgCloud
	binary.LittleEndian.PutUint64(buf[1:], uint64(rc.StampNanos))
	binary.LittleEndian.PutUint32(buf[9:], uint32(len(rc.Points)))
	off := cloudHeaderSize
	for _, p := range rc.Points {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(p.X))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(p.Y))
		binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(p.Z))
		binary.LittleEndian.PutUint32(buf[off+12:], math.Float32bits(p.Intensity))
		binary.LittleEndian.PutUint64(buf[off+16:], math.Float64bits(p.TimeOffset))
		buf[off+24] = p.Ring
		off += pointSize
	}
	return buf
}

// Handlers dispatches decoded messages. Nil handlers drop their
// message kind.
type Handlers struct {
	OnCloud func(*l1preprocess.RawCloud)
	OnImu   func(lio.ImuSample)
}

// Decode parses one datagram payload and dispatches it. Foreign or
// truncated payloads return an error and are otherwise ignored.
func Decode(payload []byte, h Handlers) error {
	if len(payload) == 0 {
		return fmt.Errorf("empty payload")
	}
	switch payload[0] {
	case msgImu:
		if len(payload) < imuMsgSize {
			return fmt.Errorf("short imu payload: %d bytes", len(payload))
		}
		m := lio.ImuSample{
			Stamp: float64(int64(binary.LittleEndian.Uint64(payload[1:]))) * 1e-9,
		}
		off := 9
		vals := make([]float64, 6)
		for i := range vals {
			vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(payload[off:]))
			off += 8
		}
		m.Gyro = lio.V3{vals[0], vals[1], vals[2]}
		m.Acc = lio.V3{vals[3], vals[4], vals[5]}
		if h.OnImu != nil {
			h.OnImu(m)
		}
		return nil

	case msgCloud:
		if len(payload) < cloudHeaderSize {
			return fmt.Errorf("short cloud payload: %d bytes", len(payload))
		}
		n := int(binary.LittleEndian.Uint32(payload[9:]))
		if len(payload) < cloudHeaderSize+n*pointSize {
			return fmt.Errorf("truncated cloud payload: %d points claimed, %d bytes", n, len(payload))
		}
		rc := &l1preprocess.RawCloud{
			StampNanos: int64(binary.LittleEndian.Uint64(payload[1:])),
			Points:     make([]l1preprocess.RawPoint, n),
		}
		off := cloudHeaderSize
		for i := 0; i < n; i++ {
			rc.Points[i] = l1preprocess.RawPoint{
				X:          math.Float32frombits(binary.LittleEndian.Uint32(payload[off:])),
				Y:          math.Float32frombits(binary.LittleEndian.Uint32(payload[off+4:])),
				Z:          math.Float32frombits(binary.LittleEndian.Uint32(payload[off+8:])),
				Intensity:  math.Float32frombits(binary.LittleEndian.Uint32(payload[off+12:])),
				TimeOffset: math.Float64frombits(binary.LittleEndian.Uint64(payload[off+16:])),
				Ring:       payload[off+24],
			}
			off += pointSize
		}
		if h.OnCloud != nil {
			h.OnCloud(rc)
		}
		return nil
	}
	return fmt.Errorf("unknown message type 0x%02x", payload[0])
}

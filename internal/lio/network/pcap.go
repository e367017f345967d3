package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/odometry.report/internal/lio"
)

// ReplayConfig controls offline pcap replay.
type ReplayConfig struct {
	Path string
	// Port filters UDP datagrams; 0 accepts every port.
	Port int
	// Realtime paces packets by their capture timestamps instead of
	// draining the file as fast as possible.
	Realtime bool
	Handlers Handlers
}

// Replay drains a recorded sensor stream through the handlers. Foreign
// packets (non-UDP, wrong port, undecodable payloads) are counted and
// skipped.
func Replay(ctx context.Context, cfg ReplayConfig) error {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return fmt.Errorf("open pcap: %w", err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("read pcap header: %w", err)
	}

	var (
		total   int
		skipped int
		lastTS  time.Time
		started = time.Now()
	)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read packet: %w", err)
		}
		total++

		pkt := gopacket.NewPacket(data, r.LinkType(), gopacket.Lazy)
		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			skipped++
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if cfg.Port != 0 && int(udp.DstPort) != cfg.Port {
			skipped++
			continue
		}

		if cfg.Realtime {
			if !lastTS.IsZero() {
				if gap := ci.Timestamp.Sub(lastTS); gap > 0 {
					select {
					case <-time.After(gap):
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			lastTS = ci.Timestamp
		}

		if derr := Decode(udp.Payload, cfg.Handlers); derr != nil {
			skipped++
			lio.Tracef("replay drop: %v", derr)
		}
	}

	lio.Diagf("replay done: %d packets, %d skipped, %.1fs wall",
		total, skipped, time.Since(started).Seconds())
	return nil
}

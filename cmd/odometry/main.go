// Command odometry runs the LiDAR-inertial odometry engine against a
// live UDP sensor stream or a recorded pcap, publishing poses and
// registered clouds and optionally persisting the run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/odometry.report/internal/lio"
	"github.com/banshee-data/odometry.report/internal/lio/l1preprocess"
	"github.com/banshee-data/odometry.report/internal/lio/monitor"
	"github.com/banshee-data/odometry.report/internal/lio/network"
	"github.com/banshee-data/odometry.report/internal/lio/pcd"
	"github.com/banshee-data/odometry.report/internal/lio/pipeline"
	"github.com/banshee-data/odometry.report/internal/lio/serialimu"
	"github.com/banshee-data/odometry.report/internal/lio/storage/sqlite"
)

var (
	configPath = flag.String("config", "", "Path to the engine JSON config (defaults apply when empty)")
	pcapFile   = flag.String("pcap", "", "Replay a recorded pcap instead of listening on UDP")
	realtime   = flag.Bool("realtime", false, "Pace pcap replay by capture timestamps")
	udpAddr    = flag.String("udp-addr", ":2369", "UDP bind address for live sensor datagrams")
	udpPort    = flag.Int("udp-port", 2369, "UDP port filter applied during pcap replay")
	serialPort = flag.String("serial-imu", "", "Serial device streaming IMU frames (optional)")
	serialBaud = flag.Int("serial-baud", 115200, "Serial IMU baud rate")
	dbFile     = flag.String("db", "", "SQLite file persisting the run trajectory (optional)")
	trajFile   = flag.String("traj", "", "Write the trajectory dump here on exit (optional)")
	chartFile  = flag.String("chart", "", "Write the trajectory HTML chart here on exit (optional)")
	pcdDir     = flag.String("pcd-dir", "PCD", "Directory for PCD dumps when enabled in config")
	autoStart  = flag.Bool("start", true, "Arm the session at boot instead of waiting for a start request")
	verbose    = flag.Bool("verbose", false, "Enable diagnostic logging")
)

func main() {
	flag.Parse()

	diag := io.Writer(nil)
	if *verbose {
		diag = os.Stderr
	}
	lio.SetLogWriters(lio.LogWriters{Ops: os.Stderr, Diag: diag})

	if err := run(); err != nil {
		log.Fatalf("odometry: %v", err)
	}
}

func run() error {
	cfg := lio.DefaultConfig()
	if *configPath != "" {
		loaded, err := lio.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeCfg := pipeline.Config{Engine: cfg}

	if cfg.PCDSave.PCDSaveEn {
		writer, err := pcd.NewWriter(*pcdDir, "scans")
		if err != nil {
			return err
		}
		pipeCfg.PCD = writer
	}

	var store *sqlite.RunStore
	var runID string
	if *dbFile != "" {
		db, err := sqlite.Open(*dbFile)
		if err != nil {
			return err
		}
		defer db.Close()
		store = sqlite.NewRunStore(db)

		cfgJSON, _ := json.Marshal(cfg)
		runRec := &sqlite.Run{ConfigJSON: string(cfgJSON)}
		if err := store.CreateRun(runRec); err != nil {
			return err
		}
		runID = runRec.RunID
		pipeCfg.Path = sqlite.NewRunRecorder(store, runID)
		lio.Opsf("recording run %s", runID)
	}

	pipe, err := pipeline.New(pipeCfg)
	if err != nil {
		return err
	}

	pp := l1preprocess.New(cfg.Preprocess)
	handlers := network.Handlers{
		OnCloud: func(rc *l1preprocess.RawCloud) { pipe.PushLidar(pp.Process(rc)) },
		OnImu:   pipe.PushImu,
	}

	if *autoStart {
		pipe.Start()
	}

	// Pipeline thread: drain the synchronizer until shutdown.
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if !pipe.Run() {
				time.Sleep(2 * time.Millisecond)
			}
		}
	}()

	if *serialPort != "" {
		port, err := serialimu.Open(*serialPort, *serialBaud)
		if err != nil {
			return err
		}
		defer port.Close()
		go func() {
			if err := port.Stream(ctx, pipe.PushImu); err != nil && ctx.Err() == nil {
				lio.Opsf("serial imu: %v", err)
			}
		}()
	}

	if *pcapFile != "" {
		err := network.Replay(ctx, network.ReplayConfig{
			Path:     *pcapFile,
			Port:     *udpPort,
			Realtime: *realtime,
			Handlers: handlers,
		})
		if err != nil && ctx.Err() == nil {
			return err
		}
		// Let the pipeline thread drain what the replay produced.
		time.Sleep(200 * time.Millisecond)
		stop()
	} else {
		listener := network.NewUDPListener(network.ListenerConfig{
			Address:  *udpAddr,
			Handlers: handlers,
		})
		if err := listener.Listen(ctx); err != nil && ctx.Err() == nil {
			return err
		}
	}

	<-pipelineDone
	pipe.Finish()

	if store != nil {
		if err := store.EndRun(runID, time.Now().UnixNano()); err != nil {
			lio.Opsf("end run: %v", err)
		}
	}
	if *trajFile != "" && cfg.PathSaveEn {
		if err := pipe.SaveTrajectory(*trajFile); err != nil {
			return fmt.Errorf("save trajectory: %w", err)
		}
		lio.Opsf("trajectory saved to %s (%d poses)", *trajFile, len(pipe.Path()))
	}
	if *chartFile != "" {
		if err := monitor.WriteTrajectoryHTML(*chartFile, pipe.Path()); err != nil {
			return fmt.Errorf("write chart: %w", err)
		}
	}
	return nil
}

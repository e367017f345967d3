package lio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LidarType selects the per-point timing convention of the sensor.
type LidarType int

const (
	LidarAvia   LidarType = 1 // solid-state, non-repeating scan pattern
	LidarVelo32 LidarType = 2 // mechanical 32-ring spinning
	LidarOust64 LidarType = 3 // 64-ring spinning
)

// PreprocessConfig controls raw cloud normalisation.
type PreprocessConfig struct {
	Blind          float64   `json:"blind"`            // blind-zone radius, metres
	TimeScale      float64   `json:"time_scale"`       // native per-point time unit → seconds
	LidarType      LidarType `json:"lidar_type"`       // 1=AVIA, 2=VELO32, 3=OUST64
	ScanLine       int       `json:"scan_line"`        // ring count of the sensor
	PointFilterNum int       `json:"point_filter_num"` // keep every N-th point
	FeatureExtract bool      `json:"feature_extract_enable"`
}

// MappingConfig holds filter and extrinsic parameters.
type MappingConfig struct {
	DetRange       float64    `json:"det_range"`
	GyrCov         float64    `json:"gyr_cov"`
	AccCov         float64    `json:"acc_cov"`
	BGyrCov        float64    `json:"b_gyr_cov"`
	BAccCov        float64    `json:"b_acc_cov"`
	ExtrinsicT     [3]float64 `json:"extrinsic_T"`
	ExtrinsicR     [9]float64 `json:"extrinsic_R"`
	ExtrinsicEstEn bool       `json:"extrinsic_est_en"`
	// OutlierGate scales the distance-adaptive correspondence gate:
	// a point is kept only when |p_body|² > OutlierGate · pd².
	OutlierGate float64 `json:"outlier_gate"`
}

// PublishConfig selects which outputs are emitted.
type PublishConfig struct {
	ScanPublishEn      bool `json:"scan_publish_en"`
	DensePublishEn     bool `json:"dense_publish_en"`
	ScanBodyframePubEn bool `json:"scan_bodyframe_pub_en"`
	ScanEffectPubEn    bool `json:"scan_effect_pub_en"`
	PathPublishEn      bool `json:"path_publish_en"`
}

// PCDSaveConfig controls binary cloud dumps.
type PCDSaveConfig struct {
	PCDSaveEn bool `json:"pcd_save_en"`
	Interval  int  `json:"interval"` // scans per dump; <=0 means only on shutdown
}

// CommonConfig holds cross-cutting toggles.
type CommonConfig struct {
	TimeSyncEn bool `json:"time_sync_en"`
}

// FramesConfig names the coordinate frames used on output.
type FramesConfig struct {
	Global   string `json:"global_frame"`
	BaseLink string `json:"base_link_frame"`
	Lidar    string `json:"lidar_frame"`
}

// Config is the complete engine configuration. Fields omitted from the
// JSON file retain their defaults, so partial configs are safe.
type Config struct {
	MaxIteration       int     `json:"max_iteration"`
	EstiPlaneThreshold float64 `json:"esti_plane_threshold"`
	FilterSizeSurf     float64 `json:"filter_size_surf"`
	FilterSizeMap      float64 `json:"filter_size_map"`
	// CubeSideLength is loaded and defaulted; Validate does not check it
	// and no pipeline stage reads it.
	CubeSideLength     float64 `json:"cube_side_length"`
	IvoxGridResolution float64 `json:"ivox_grid_resolution"`
	IvoxNearbyType     int     `json:"ivox_nearby_type"`
	PathSaveEn         bool    `json:"path_save_en"`

	Common     CommonConfig     `json:"common"`
	Preprocess PreprocessConfig `json:"preprocess"`
	Mapping    MappingConfig    `json:"mapping"`
	Publish    PublishConfig    `json:"publish"`
	PCDSave    PCDSaveConfig    `json:"pcd_save"`
	Frames     FramesConfig     `json:"frames"`
}

// DefaultConfig returns the configuration the original deployment ships
// with.
func DefaultConfig() *Config {
	return &Config{
		MaxIteration:       4,
		EstiPlaneThreshold: 0.1,
		FilterSizeSurf:     0.5,
		FilterSizeMap:      0.5,
		CubeSideLength:     200,
		IvoxGridResolution: 0.2,
		IvoxNearbyType:     18,
		PathSaveEn:         true,
		Preprocess: PreprocessConfig{
			Blind:          0.01,
			TimeScale:      1e-3,
			LidarType:      LidarAvia,
			ScanLine:       16,
			PointFilterNum: 2,
		},
		Mapping: MappingConfig{
			DetRange:       300,
			GyrCov:         0.1,
			AccCov:         0.1,
			BGyrCov:        0.0001,
			BAccCov:        0.0001,
			ExtrinsicR:     [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
			ExtrinsicEstEn: true,
			OutlierGate:    81,
		},
		Publish: PublishConfig{
			ScanPublishEn:      true,
			ScanBodyframePubEn: true,
			PathPublishEn:      true,
		},
		PCDSave: PCDSaveConfig{Interval: -1},
		Frames: FramesConfig{
			Global:   "world",
			BaseLink: "base_footprint",
			Lidar:    "main_sensor_lidar",
		},
	}
}

const maxConfigFileSize = 1 << 20

// LoadConfig reads a JSON configuration file over the defaults. A
// malformed file or an out-of-range enum aborts initialisation.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enum ranges and rejects configurations the pipeline
// cannot start with.
func (c *Config) Validate() error {
	switch c.Preprocess.LidarType {
	case LidarAvia, LidarVelo32, LidarOust64:
	default:
		return fmt.Errorf("unknown lidar_type %d", c.Preprocess.LidarType)
	}
	switch c.IvoxNearbyType {
	case 0, 6, 18, 26:
	default:
		Opsf("unknown ivox_nearby_type %d, using 18", c.IvoxNearbyType)
		c.IvoxNearbyType = 18
	}
	if c.MaxIteration <= 0 {
		return fmt.Errorf("max_iteration must be positive, got %d", c.MaxIteration)
	}
	if c.IvoxGridResolution <= 0 {
		return fmt.Errorf("ivox_grid_resolution must be positive, got %g", c.IvoxGridResolution)
	}
	if c.Preprocess.PointFilterNum <= 0 {
		c.Preprocess.PointFilterNum = 1
	}
	if c.Mapping.OutlierGate <= 0 {
		c.Mapping.OutlierGate = 81
	}
	return nil
}

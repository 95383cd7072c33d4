// conf/config.go: settings structure and loading
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/trackwatch/trackwatch/internal/errors"
	"github.com/trackwatch/trackwatch/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings identifies the vehicle.
type MainSettings struct {
	Name string // train id, used in topics and message ids
}

// CameraSettings configures capture and the video plane.
type CameraSettings struct {
	Device        string  // device index or stream URL
	Width         int     // working width in pixels
	Height        int     // working height in pixels
	Flip          bool    // rotate frames 180 degrees
	FPS           float64 // target frame rate of the perception loop
	PublishWidth  int     // video plane frame width
	PublishHeight int     // video plane frame height
	JPEGQuality   int     // video plane JPEG quality
}

// InferenceSettings configures the detector backend.
type InferenceSettings struct {
	URL     string        // detector endpoint receiving JPEG frames
	Timeout time.Duration // per-frame request timeout
}

// DetectionSettings configures normalization and alert gating.
type DetectionSettings struct {
	ConfidenceFloor float64       // rows below this score are discarded
	AlertConfidence float64       // minimum score for a hazard alert
	AlertCooldown   time.Duration // minimum interval between hazard alerts
}

// ROILabels names the calibration polygons.
type ROILabels struct {
	Straight string
	Curve    string
}

// ROISettings configures track geometry selection.
type ROISettings struct {
	File             string    // Labelme calibration file holding both polygons
	Labels           ROILabels // polygon labels
	OverlapThreshold float64   // minimum bbox/ROI overlap ratio
	AnalysisSize     int       // side of the square texture analysis image
	EMAAlpha         float64   // edge density smoothing factor
	Hysteresis       float64   // EMA lead required to switch variants
	Initial          string    // variant active before the first frame
	BlurKernel       int       // Gaussian blur kernel size
	CannyLow         float64
	CannyHigh        float64
}

// AnomalySettings configures the track texture anomaly detector.
type AnomalySettings struct {
	Threshold   float64       // edge density below which a frame is bad
	MinDuration time.Duration // minimum episode duration before alerting
	MinFrames   int           // minimum bad frames before alerting
	Cooldown    time.Duration // minimum interval between anomaly alerts
}

// DistanceSettings configures monocular ranging.
type DistanceSettings struct {
	FocalPx          float64            // calibrated focal length in pixels
	Close            float64            // upper bound of the CLOSE bucket in metres
	Medium           float64            // upper bound of the MEDIUM bucket in metres
	MaxAlert         float64            // candidates further than this are not alerted
	ReferenceHeights map[string]float64 // label -> physical height in metres
}

// AlertSettings configures alert routing and acknowledgement tracking.
type AlertSettings struct {
	PrimaryReceiver string        // receiver whose ack is required for completion
	Destination     string        // destination id of the scoped alert topic
	TTL             time.Duration // pending record lifetime
	AckFallback     time.Duration // age after which any ack retires a record
	RTTWindow       int           // RTT samples kept for heartbeat statistics
}

// DebugSettings configures diagnostic events.
type DebugSettings struct {
	Enabled   bool
	MinPeriod time.Duration // minimum interval per debug event type
}

// DatasetSettings configures on-demand dataset capture.
type DatasetSettings struct {
	Dir         string
	Duration    time.Duration
	FPS         float64
	JPEGQuality int
	MinFreeMB   int // capture is refused below this much free space
}

// MQTTPorts are the broker ports of the three planes.
type MQTTPorts struct {
	Ctrl  int
	Video int
	Alert int
}

// MQTTSettings configures the broker connections.
type MQTTSettings struct {
	Host     string
	Ports    MQTTPorts
	Username string
	Password string
}

// StatusSettings configures periodic status reporting.
type StatusSettings struct {
	Heartbeat time.Duration
}

// TelemetrySettings configures the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool
	Listen  string
}

// JournalSettings configures the SQLite alert journal.
type JournalSettings struct {
	Enabled bool
	Path    string
}

// SentrySettings configures error reporting.
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// Settings is the root of the configuration tree.
type Settings struct {
	Main      MainSettings
	Camera    CameraSettings
	Inference InferenceSettings
	Detection DetectionSettings
	ROI       ROISettings
	Anomaly   AnomalySettings
	Distance  DistanceSettings
	Alert     AlertSettings
	Debug     DebugSettings
	Dataset   DatasetSettings
	MQTT      MQTTSettings
	Status    StatusSettings
	Telemetry TelemetrySettings
	Journal   JournalSettings
	Sentry    SentrySettings
	Logging   logger.LoggingConfig
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables. An empty
// configFile searches the default locations and writes the embedded
// defaults to the first of them when no file exists.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}
	settings.Dataset.Dir = ExpandHome(settings.Dataset.Dir)

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper(configFile string) error {
	viper.SetConfigType("yaml")
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("file", configFile).
				Build()
		}
		return nil
	}

	viper.SetConfigName("config")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths)
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded defaults to the first search path.
func createDefaultConfig(configPaths []string) error {
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig, err := DefaultConfigYAML()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, defaultConfig, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// DefaultConfigYAML returns the embedded default configuration.
func DefaultConfigYAML() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// GetSettings returns the most recently loaded settings.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// ConfigFileUsed returns the path of the file viper read, if any.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// RenderYAML renders the effective settings. Secrets are masked.
func RenderYAML(settings *Settings) ([]byte, error) {
	masked := *settings
	if masked.MQTT.Password != "" {
		masked.MQTT.Password = "********"
	}
	if masked.Sentry.DSN != "" {
		masked.Sentry.DSN = "********"
	}
	data, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return data, nil
}

// BrokerURL returns the tcp URL of a plane's broker port.
func (s *MQTTSettings) BrokerURL(port int) string {
	return fmt.Sprintf("tcp://%s:%d", s.Host, port)
}

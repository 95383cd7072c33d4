// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"

	"github.com/trackwatch/trackwatch/internal/roi"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct and reports every
// problem found, not only the first.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, check := range []func(*Settings) []string{
		validateMain,
		validateCamera,
		validateDetection,
		validateROI,
		validateAnomaly,
		validateDistance,
		validateAlert,
		validateDataset,
		validateMQTT,
		validateOutputs,
	} {
		ve.Errors = append(ve.Errors, check(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateMain(s *Settings) []string {
	var errs []string
	if s.Main.Name == "" {
		errs = append(errs, "main.name must not be empty")
	} else if strings.ContainsAny(s.Main.Name, "/+# ") {
		errs = append(errs, "main.name must not contain topic separators, wildcards or spaces")
	}
	return errs
}

func validateCamera(s *Settings) []string {
	var errs []string
	c := s.Camera
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, "camera.width and camera.height must be positive")
	}
	if c.FPS <= 0 {
		errs = append(errs, "camera.fps must be positive")
	}
	if c.PublishWidth <= 0 || c.PublishHeight <= 0 {
		errs = append(errs, "camera.publishwidth and camera.publishheight must be positive")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, "camera.jpegquality must be between 1 and 100")
	}
	return errs
}

func validateDetection(s *Settings) []string {
	var errs []string
	d := s.Detection
	if d.ConfidenceFloor < 0 || d.ConfidenceFloor > 1 {
		errs = append(errs, "detection.confidencefloor must be between 0 and 1")
	}
	if d.AlertConfidence < 0 || d.AlertConfidence > 1 {
		errs = append(errs, "detection.alertconfidence must be between 0 and 1")
	}
	if d.AlertCooldown < 0 {
		errs = append(errs, "detection.alertcooldown must not be negative")
	}
	if s.Inference.Timeout <= 0 {
		errs = append(errs, "inference.timeout must be positive")
	}
	return errs
}

func validateROI(s *Settings) []string {
	var errs []string
	r := s.ROI
	if r.File == "" {
		errs = append(errs, "roi.file must be set")
	}
	if r.Labels.Straight == "" || r.Labels.Curve == "" {
		errs = append(errs, "roi.labels.straight and roi.labels.curve must be set")
	}
	if r.OverlapThreshold < 0 || r.OverlapThreshold > 1 {
		errs = append(errs, "roi.overlapthreshold must be between 0 and 1")
	}
	if r.AnalysisSize < 16 {
		errs = append(errs, "roi.analysissize must be at least 16")
	}
	if r.EMAAlpha <= 0 || r.EMAAlpha > 1 {
		errs = append(errs, "roi.emaalpha must be in (0, 1]")
	}
	if r.Hysteresis < 0 {
		errs = append(errs, "roi.hysteresis must not be negative")
	}
	if _, err := roi.ParseVariant(r.Initial); err != nil {
		errs = append(errs, fmt.Sprintf("roi.initial: %v", err))
	}
	if r.BlurKernel < 1 || r.BlurKernel%2 == 0 {
		errs = append(errs, "roi.blurkernel must be a positive odd number")
	}
	if r.CannyLow < 0 || r.CannyHigh < r.CannyLow {
		errs = append(errs, "roi.cannylow must be non-negative and not above roi.cannyhigh")
	}
	return errs
}

func validateAnomaly(s *Settings) []string {
	var errs []string
	a := s.Anomaly
	if a.Threshold < 0 {
		errs = append(errs, "anomaly.threshold must not be negative")
	}
	if a.MinDuration < 0 || a.MinFrames < 1 {
		errs = append(errs, "anomaly.minduration must not be negative and anomaly.minframes must be at least 1")
	}
	if a.Cooldown < 0 {
		errs = append(errs, "anomaly.cooldown must not be negative")
	}
	return errs
}

func validateDistance(s *Settings) []string {
	var errs []string
	d := s.Distance
	if d.FocalPx <= 0 {
		errs = append(errs, "distance.focalpx must be positive")
	}
	if d.Close <= 0 || d.Medium < d.Close {
		errs = append(errs, "distance.close must be positive and not above distance.medium")
	}
	if d.MaxAlert <= 0 {
		errs = append(errs, "distance.maxalert must be positive")
	}
	for label, h := range d.ReferenceHeights {
		if h <= 0 {
			errs = append(errs, fmt.Sprintf("distance.referenceheights.%s must be positive", label))
		}
	}
	return errs
}

func validateAlert(s *Settings) []string {
	var errs []string
	a := s.Alert
	if strings.TrimSpace(a.PrimaryReceiver) == "" {
		errs = append(errs, "alert.primaryreceiver must not be empty")
	}
	if a.Destination == "" || strings.ContainsAny(a.Destination, "/+# ") {
		errs = append(errs, "alert.destination must be a single topic level")
	}
	if a.TTL <= 0 || a.AckFallback <= 0 {
		errs = append(errs, "alert.ttl and alert.ackfallback must be positive")
	}
	if a.RTTWindow < 1 {
		errs = append(errs, "alert.rttwindow must be at least 1")
	}
	if s.Debug.MinPeriod < 0 {
		errs = append(errs, "debug.minperiod must not be negative")
	}
	return errs
}

func validateDataset(s *Settings) []string {
	var errs []string
	d := s.Dataset
	if d.Dir == "" {
		errs = append(errs, "dataset.dir must be set")
	}
	if d.Duration <= 0 || d.FPS <= 0 {
		errs = append(errs, "dataset.duration and dataset.fps must be positive")
	}
	if d.JPEGQuality < 1 || d.JPEGQuality > 100 {
		errs = append(errs, "dataset.jpegquality must be between 1 and 100")
	}
	if d.MinFreeMB < 0 {
		errs = append(errs, "dataset.minfreemb must not be negative")
	}
	return errs
}

func validateMQTT(s *Settings) []string {
	var errs []string
	m := s.MQTT
	if m.Host == "" {
		errs = append(errs, "mqtt.host must be set")
	}
	ports := []struct {
		name string
		port int
	}{{"ctrl", m.Ports.Ctrl}, {"video", m.Ports.Video}, {"alert", m.Ports.Alert}}
	for _, p := range ports {
		if p.port < 1 || p.port > 65535 {
			errs = append(errs, fmt.Sprintf("mqtt.ports.%s must be between 1 and 65535", p.name))
		}
	}
	return errs
}

func validateOutputs(s *Settings) []string {
	var errs []string
	if s.Status.Heartbeat <= 0 {
		errs = append(errs, "status.heartbeat must be positive")
	}
	if s.Telemetry.Enabled {
		if _, _, err := net.SplitHostPort(s.Telemetry.Listen); err != nil {
			errs = append(errs, fmt.Sprintf("telemetry.listen: %v", err))
		}
	}
	if s.Journal.Enabled && s.Journal.Path == "" {
		errs = append(errs, "journal.path must be set when the journal is enabled")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		errs = append(errs, "sentry.dsn must be set when sentry is enabled")
	}
	return errs
}

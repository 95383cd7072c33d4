// conf/defaults.go default values for settings
package conf

import (
	"maps"
	"time"

	"github.com/spf13/viper"

	"github.com/trackwatch/trackwatch/internal/distance"
	"github.com/trackwatch/trackwatch/internal/roi"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("main.name", "TRAIN01")

	viper.SetDefault("camera.device", "0")
	viper.SetDefault("camera.width", 640)
	viper.SetDefault("camera.height", 640)
	viper.SetDefault("camera.flip", false)
	viper.SetDefault("camera.fps", 10.0)
	viper.SetDefault("camera.publishwidth", 640)
	viper.SetDefault("camera.publishheight", 360)
	viper.SetDefault("camera.jpegquality", 35)

	viper.SetDefault("inference.url", "http://127.0.0.1:8500/v1/detect")
	viper.SetDefault("inference.timeout", 500*time.Millisecond)

	viper.SetDefault("detection.confidencefloor", 0.20)
	viper.SetDefault("detection.alertconfidence", 0.45)
	viper.SetDefault("detection.alertcooldown", 500*time.Millisecond)

	viper.SetDefault("roi.file", "calibration/track_roi.json")
	viper.SetDefault("roi.labels.straight", roi.LabelStraight)
	viper.SetDefault("roi.labels.curve", roi.LabelCurve)
	viper.SetDefault("roi.overlapthreshold", 0.20)
	viper.SetDefault("roi.analysissize", 320)
	viper.SetDefault("roi.emaalpha", 0.10)
	viper.SetDefault("roi.hysteresis", 0.00025)
	viper.SetDefault("roi.initial", roi.Straight.String())
	viper.SetDefault("roi.blurkernel", 5)
	viper.SetDefault("roi.cannylow", 60.0)
	viper.SetDefault("roi.cannyhigh", 140.0)

	viper.SetDefault("anomaly.threshold", 0.0022)
	viper.SetDefault("anomaly.minduration", 3*time.Second)
	viper.SetDefault("anomaly.minframes", 28)
	viper.SetDefault("anomaly.cooldown", 12*time.Second)

	viper.SetDefault("distance.focalpx", 820.0)
	viper.SetDefault("distance.close", 3.0)
	viper.SetDefault("distance.medium", 6.0)
	viper.SetDefault("distance.maxalert", 18.0)
	viper.SetDefault("distance.referenceheights", maps.Clone(distance.DefaultReferenceHeights))

	viper.SetDefault("alert.primaryreceiver", "RBC")
	viper.SetDefault("alert.destination", "DE0001")
	viper.SetDefault("alert.ttl", 60*time.Second)
	viper.SetDefault("alert.ackfallback", 10*time.Second)
	viper.SetDefault("alert.rttwindow", 256)

	viper.SetDefault("debug.enabled", true)
	viper.SetDefault("debug.minperiod", 500*time.Millisecond)

	viper.SetDefault("dataset.dir", "~/track_dataset/images")
	viper.SetDefault("dataset.duration", 30*time.Second)
	viper.SetDefault("dataset.fps", 4.0)
	viper.SetDefault("dataset.jpegquality", 95)
	viper.SetDefault("dataset.minfreemb", 512)

	viper.SetDefault("mqtt.host", "192.168.4.4")
	viper.SetDefault("mqtt.ports.ctrl", 1883)
	viper.SetDefault("mqtt.ports.video", 1886)
	viper.SetDefault("mqtt.ports.alert", 1887)

	viper.SetDefault("status.heartbeat", 10*time.Second)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "127.0.0.1:8090")

	viper.SetDefault("journal.enabled", false)
	viper.SetDefault("journal.path", "data/journal.db")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")

	viper.SetDefault("logging.defaultlevel", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.fileoutput.enabled", false)
	viper.SetDefault("logging.fileoutput.path", "logs/trackwatch.log")
	viper.SetDefault("logging.fileoutput.level", "info")
}

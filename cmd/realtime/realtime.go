package realtime

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trackwatch/trackwatch/internal/analysis"
	"github.com/trackwatch/trackwatch/internal/conf"
)

// Command creates the command for on-vehicle operation.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Run the perception pipeline on the camera feed",
		Long:  "Capture frames from the camera, detect hazards and track anomalies, and publish alerts until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return analysis.RealtimeAnalysis(ctx, settings)
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the realtime command.
func setupFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("device", "", "Camera device index or stream URL")
	flags.Float64("fps", 0, "Target frame rate of the perception loop")
	flags.Bool("flip", false, "Rotate frames 180 degrees")
	flags.String("detector", "", "Detector endpoint receiving JPEG frames")
	flags.Bool("telemetry", false, "Enable Prometheus telemetry endpoint")
	flags.String("listen", "", "Listen address and port of telemetry endpoint")

	for _, err := range []error{
		conf.AnnotateFlag(flags, "device", "camera.device"),
		conf.AnnotateFlag(flags, "fps", "camera.fps"),
		conf.AnnotateFlag(flags, "flip", "camera.flip"),
		conf.AnnotateFlag(flags, "detector", "inference.url"),
		conf.AnnotateFlag(flags, "telemetry", "telemetry.enabled"),
		conf.AnnotateFlag(flags, "listen", "telemetry.listen"),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

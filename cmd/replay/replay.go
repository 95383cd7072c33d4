package replay

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trackwatch/trackwatch/internal/analysis"
	"github.com/trackwatch/trackwatch/internal/conf"
)

// Command creates the command that replays a recorded manifest through the pipeline.
func Command(settings *conf.Settings) *cobra.Command {
	var opts analysis.Options

	cmd := &cobra.Command{
		Use:   "replay [manifest.jsonl]",
		Short: "Replay recorded frames and detections through the pipeline",
		Long: "Feed a JSONL manifest of frames and recorded detector output through the pipeline. " +
			"With --offline nothing is sent to the broker and a summary is printed at the end.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Manifest = args[0]
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := analysis.Run(ctx, settings, opts)
			if summary != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d frames", summary.RunID, summary.Frames)
				if opts.Offline {
					fmt.Fprintf(cmd.OutOrStdout(), ", %d alerts", summary.Alerts)
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&opts.Loop, "loop", false, "Restart the manifest when it ends")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "Keep outbound messages in memory instead of connecting to the broker")
	cmd.Flags().BoolVar(&opts.LiveInference, "live", false, "Send frames to the detector instead of using recorded detections")
	cmd.Flags().Float64("fps", 0, "Replay frame rate")
	if err := conf.AnnotateFlag(cmd.Flags(), "fps", "camera.fps"); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

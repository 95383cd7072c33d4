package roi

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/trackwatch/trackwatch/internal/conf"
	trackroi "github.com/trackwatch/trackwatch/internal/roi"
	"github.com/trackwatch/trackwatch/internal/vision"
)

// Command creates the command that checks the track calibration.
func Command(settings *conf.Settings) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "roi",
		Short: "Check the track calibration",
		Long:  "Load both track polygons, report how much of the frame each covers and optionally write the masks as PNG files.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			geom, err := trackroi.LoadGeometry(
				trackroi.Source{File: settings.ROI.File, Label: settings.ROI.Labels.Straight},
				trackroi.Source{File: settings.ROI.File, Label: settings.ROI.Labels.Curve},
				settings.Camera.Width, settings.Camera.Height, settings.ROI.AnalysisSize)
			if err != nil {
				return err
			}
			return Report(cmd.OutOrStdout(), geom, outDir)
		},
	}

	cmd.Flags().StringVar(&outDir, "out", "", "Directory to write mask PNG files to")
	cmd.Flags().String("file", "", "Labelme calibration file")
	if err := conf.AnnotateFlag(cmd.Flags(), "file", "roi.file"); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// Report prints the coverage of each variant and writes the working and
// analysis masks to dir when it is not empty.
func Report(w io.Writer, geom *trackroi.Geometry, dir string) error {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	for v := range trackroi.Variant(trackroi.VariantCount) {
		working, analysis := geom.Mask(v), geom.AnalysisMask(v)
		fmt.Fprintf(w, "%-8s %4dx%-4d %6.2f%%  analysis %4dx%-4d %6.2f%%\n",
			v, working.Width(), working.Height(), coverage(working),
			analysis.Width(), analysis.Height(), coverage(analysis))

		if dir == "" {
			continue
		}
		for suffix, m := range map[string]*trackroi.Mask{"": working, "_analysis": analysis} {
			path := filepath.Join(dir, fmt.Sprintf("roi_%s%s.png", v, suffix))
			if err := vision.WriteMaskPNG(path, m.Gray()); err != nil {
				return err
			}
			fmt.Fprintf(w, "wrote %s\n", path)
		}
	}
	return nil
}

func coverage(m *trackroi.Mask) float64 {
	total := m.Width() * m.Height()
	if total == 0 {
		return 0
	}
	return 100 * float64(m.Area()) / float64(total)
}

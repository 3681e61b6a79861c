package main

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/spf13/cobra"

	"genwatch/internal/detector"
	"genwatch/internal/visualize"
)

func newDetectCmd(opts *rootOptions) *cobra.Command {
	var annotate string
	cmd := &cobra.Command{
		Use:   "detect <image>",
		Short: "Run the detector on a JPEG or PNG frame to tune the ROI and thresholds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, clk, err := opts.load(cmd)
			if err != nil {
				return err
			}
			roi := cfg.Detection.ROI
			det, err := detector.New(detector.Config{
				X: roi.X, Y: roi.Y, Width: roi.Width, Height: roi.Height,
				Threshold:       cfg.Detection.BrightThreshold,
				MinBrightPixels: cfg.Detection.MinBrightPixels,
			})
			if err != nil {
				return err
			}

			frame, err := readImage(args[0])
			if err != nil {
				return err
			}
			reading, err := det.Detect(frame)
			if err != nil {
				return err
			}

			state := "OFF"
			if reading.IsOn {
				state = "ON"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "state:      %s\n", state)
			fmt.Fprintf(out, "roi:        %v\n", det.ROI())
			fmt.Fprintf(out, "bright px:  %d (luma %d, red %d, need %d)\n",
				reading.Confidence, reading.LumaCount, reading.RedCount, cfg.Detection.MinBrightPixels)

			if annotate == "" {
				return nil
			}
			img := visualize.NewAnnotator().Annotate(frame, det.ROI(), reading.IsOn, reading.Confidence, clk.Now())
			data, err := visualize.EncodeJPEG(img, visualize.DefaultQuality)
			if err != nil {
				return err
			}
			if err := os.WriteFile(annotate, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", annotate, err)
			}
			fmt.Fprintf(out, "annotated:  %s\n", annotate)
			return nil
		},
	}
	cmd.Flags().StringVarP(&annotate, "annotate", "a", "", "write the annotated frame to this JPEG file")
	return cmd
}

func readImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

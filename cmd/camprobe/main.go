// Package main - Lists the cameras OpenCV can open and what they deliver.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nvr-ai/go-behavior/capture"
	"github.com/nvr-ai/go-behavior/logging"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

func main() {
	var (
		devices int
		frames  int
		pretty  bool
	)
	flag.IntVar(&devices, "devices", 5, "Number of device indices to probe, starting at 0")
	flag.IntVar(&frames, "frames", 30, "Frames to read from each device")
	flag.BoolVar(&pretty, "pretty", true, "Human readable log output")
	flag.Parse()

	if err := logging.Setup("info", pretty); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	found := 0
	for id := 0; id < devices; id++ {
		webcam, err := gocv.OpenVideoCapture(id)
		if err != nil {
			log.Debug().Err(err).Int("device", id).Msg("cannot open device")
			continue
		}
		if !webcam.IsOpened() {
			webcam.Close()
			continue
		}

		res := capture.Probe(webcam, frames)
		webcam.Close()

		if res.Frames == 0 {
			log.Warn().Int("device", id).Msg("device opened but delivered no frames")
			continue
		}
		found++
		log.Info().
			Int("device", id).
			Int("width", res.Width).
			Int("height", res.Height).
			Float64("reported_fps", res.ReportedFPS).
			Float64("measured_fps", res.MeasuredFPS).
			Int("frames", res.Frames).
			Msg("camera available")
	}

	if found == 0 {
		log.Error().Int("probed", devices).Msg("no camera found")
		os.Exit(1)
	}
}

// Package capture - Video sources: cameras, files and frame directories.
package capture

import (
	"fmt"
	"math"

	"github.com/nvr-ai/go-behavior/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// ErrNoDevice is returned when no camera index could be opened.
var ErrNoDevice = errors.New("no video capture device found")

// Source yields frames into a caller-owned Mat.
//
// *gocv.VideoCapture satisfies Source.
type Source interface {
	// Read fills m with the next frame. False means the source is exhausted or
	// failed and no further frames will follow.
	Read(m *gocv.Mat) bool
	// Get returns a capture property such as gocv.VideoCaptureFPS.
	Get(prop gocv.VideoCaptureProperties) float64
	Close() error
}

// Open selects the configured source.
//
// A video file wins over a frame directory, which wins over a camera index.
// A negative device index probes the first ProbeDevices cameras.
//
// Returns:
//   - Source: The opened source.
//   - string: A human-readable description for logs.
//   - error: Nothing could be opened.
func Open(cfg config.SourceConfig) (Source, string, error) {
	switch {
	case cfg.Video != "":
		vc, err := gocv.VideoCaptureFile(cfg.Video)
		if err != nil {
			return nil, "", errors.Wrapf(err, "open video file %s", cfg.Video)
		}
		return vc, "video: " + cfg.Video, nil

	case cfg.Directory != "":
		src, err := NewDirectorySource(cfg.Directory, cfg.DirectoryFPS)
		if err != nil {
			return nil, "", err
		}
		return src, "directory: " + cfg.Directory, nil

	case cfg.Device >= 0:
		vc, err := gocv.OpenVideoCapture(cfg.Device)
		if err != nil {
			return nil, "", errors.Wrapf(err, "open video capture device %d", cfg.Device)
		}
		return vc, describeDevice(cfg.Device), nil
	}

	vc, id, err := FindDevice(cfg.ProbeDevices)
	if err != nil {
		return nil, "", err
	}
	return vc, describeDevice(id), nil
}

// FindDevice returns the first camera among indices 0..limit-1 that opens.
func FindDevice(limit int) (*gocv.VideoCapture, int, error) {
	for id := 0; id < limit; id++ {
		vc, err := gocv.OpenVideoCapture(id)
		if err != nil {
			log.Debug().Err(err).Int("device", id).Msg("camera probe failed")
			continue
		}
		if vc.IsOpened() {
			log.Info().Int("device", id).Msg("using camera")
			return vc, id, nil
		}
		vc.Close()
	}
	return nil, -1, ErrNoDevice
}

// FrameRate returns the source's reported frame rate, or fallback when the
// source reports nothing usable.
func FrameRate(src Source, fallback float64) float64 {
	fps := src.Get(gocv.VideoCaptureFPS)
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return fallback
	}
	return fps
}

func describeDevice(id int) string {
	return fmt.Sprintf("camera: device %d", id)
}

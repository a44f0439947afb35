package capture

import (
	"time"

	"gocv.io/x/gocv"
)

// ProbeResult describes what a source delivered during a probe.
type ProbeResult struct {
	Frames      int
	Width       int
	Height      int
	ReportedFPS float64
	MeasuredFPS float64
}

// Probe reads up to n frames from src and measures the delivered frame rate.
//
// Empty frames are skipped but still count as attempts. Probe does not close
// src.
//
// Arguments:
//   - src: An opened source.
//   - n: Number of read attempts.
//
// Returns:
//   - ProbeResult: Frame size of the last good frame, and frame rates.
func Probe(src Source, n int) ProbeResult {
	img := gocv.NewMat()
	defer img.Close()

	res := ProbeResult{ReportedFPS: src.Get(gocv.VideoCaptureFPS)}
	start := time.Now()
	for i := 0; i < n; i++ {
		if !src.Read(&img) {
			break
		}
		if img.Empty() {
			continue
		}
		res.Frames++
		res.Width, res.Height = img.Cols(), img.Rows()
	}

	if elapsed := time.Since(start).Seconds(); res.Frames > 0 && elapsed > 0 {
		res.MeasuredFPS = float64(res.Frames) / elapsed
	}
	return res
}

package alert

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ArtifactWriter persists alert snapshots and clips.
type ArtifactWriter interface {
	WriteSnapshot(path string, frame gocv.Mat) error
	WriteClip(path string, frames []gocv.Mat, fps float64) error
}

// FileWriter writes JPEG snapshots and mp4v clips with OpenCV.
type FileWriter struct{}

// WriteSnapshot encodes frame as an image file; the format follows the
// extension.
func (FileWriter) WriteSnapshot(path string, frame gocv.Mat) error {
	if frame.Empty() {
		return errors.New("empty snapshot frame")
	}
	if !gocv.IMWrite(path, frame) {
		return errors.Errorf("failed to write snapshot %s", path)
	}
	return nil
}

// WriteClip encodes frames as an mp4v video at fps.
//
// The clip size is taken from the first frame. Frames of a different size are
// skipped since the encoder rejects them.
func (FileWriter) WriteClip(path string, frames []gocv.Mat, fps float64) error {
	if len(frames) == 0 {
		return errors.New("no frames for clip")
	}
	first := frames[0]
	if first.Empty() {
		return errors.New("empty clip frame")
	}

	writer, err := gocv.VideoWriterFile(path, "mp4v", fps, first.Cols(), first.Rows(), true)
	if err != nil {
		return errors.Wrapf(err, "open clip writer %s", path)
	}
	defer writer.Close()

	if !writer.IsOpened() {
		return errors.Errorf("clip writer not opened for %s", path)
	}

	for _, frame := range frames {
		if frame.Cols() != first.Cols() || frame.Rows() != first.Rows() {
			continue
		}
		if err := writer.Write(frame); err != nil {
			return errors.Wrap(err, "write clip frame")
		}
	}
	return nil
}

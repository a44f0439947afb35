package capture

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// ImageFile represents a numbered frame on disk.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Frame is the frame number parsed from the file name.
	Frame int
}

// ListDirectoryImageFiles lists frame images in a directory ordered by frame
// number.
//
// Files are named "frame-<n>.<ext>" or "<n>.<ext>" with ext one of jpg, jpeg,
// png or bmp. Other files are ignored.
//
// Arguments:
//   - dir: Directory path containing image files.
//
// Returns:
//   - []ImageFile: Frames sorted by number.
//   - error: The directory cannot be read or a frame name is not numbered.
func ListDirectoryImageFiles(dir string) ([]ImageFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read frame directory %s", dir)
	}

	var images []ImageFile
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		ext := filepath.Ext(file.Name())
		switch strings.ToLower(ext) {
		case ".jpg", ".jpeg", ".png", ".bmp":
			stem := strings.TrimPrefix(strings.TrimSuffix(file.Name(), ext), "frame-")
			frame, err := strconv.Atoi(stem)
			if err != nil {
				return nil, errors.Wrapf(err, "frame number in %s", file.Name())
			}
			images = append(images, ImageFile{
				Path:  filepath.Join(dir, file.Name()),
				Frame: frame,
			})
		}
	}

	sort.Slice(images, func(i, j int) bool {
		return images[i].Frame < images[j].Frame
	})

	return images, nil
}

// DirectorySource replays numbered frame images as a capture source.
type DirectorySource struct {
	files  []ImageFile
	next   int
	fps    float64
	width  int
	height int
}

// NewDirectorySource lists dir and replays its frames at the given rate.
func NewDirectorySource(dir string, fps float64) (*DirectorySource, error) {
	files, err := ListDirectoryImageFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no frames in %s", dir)
	}
	return &DirectorySource{files: files, fps: fps}, nil
}

// Read decodes the next frame into m.
func (s *DirectorySource) Read(m *gocv.Mat) bool {
	for s.next < len(s.files) {
		file := s.files[s.next]
		s.next++

		img := gocv.IMRead(file.Path, gocv.IMReadColor)
		if img.Empty() {
			img.Close()
			log.Warn().Str("path", file.Path).Msg("skipping unreadable frame")
			continue
		}
		img.CopyTo(m)
		s.width, s.height = img.Cols(), img.Rows()
		img.Close()
		return true
	}
	return false
}

// Get reports the replay rate, frame size and position.
func (s *DirectorySource) Get(prop gocv.VideoCaptureProperties) float64 {
	switch prop {
	case gocv.VideoCaptureFPS:
		return s.fps
	case gocv.VideoCaptureFrameCount:
		return float64(len(s.files))
	case gocv.VideoCapturePosFrames:
		return float64(s.next)
	case gocv.VideoCaptureFrameWidth:
		return float64(s.width)
	case gocv.VideoCaptureFrameHeight:
		return float64(s.height)
	}
	return 0
}

// Close ends the replay.
func (s *DirectorySource) Close() error {
	s.next = len(s.files)
	return nil
}

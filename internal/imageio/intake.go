package imageio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gocv.io/x/gocv"
)

// supportedExts are the input formats the pipeline accepts.
var supportedExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// Supported reports whether the file extension is a supported image format.
func Supported(path string) bool {
	return supportedExts[strings.ToLower(filepath.Ext(path))]
}

// ListImages enumerates supported image files in a directory, sorted by
// name. Unsupported files are ignored here; unreadable ones surface later
// per-file from Load.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input folder %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if Supported(entry.Name()) {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Image is one decoded input photo. Immutable once produced; the pipeline
// owns it for the duration of that photo's processing.
type Image struct {
	Name       string // file name within the input folder
	Path       string
	Mat        gocv.Mat
	Width      int
	Height     int
	Channels   int
	ColorSpace string
}

// Close releases the pixel buffer.
func (i *Image) Close() {
	i.Mat.Close()
}

// Load decodes one image file into BGR. A missing, corrupt, or unsupported
// file is an error scoped to that file.
func Load(path string) (*Image, error) {
	if !Supported(path) {
		return nil, fmt.Errorf("unsupported image format: %s", filepath.Ext(path))
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return nil, fmt.Errorf("failed to decode image %s", path)
	}

	return &Image{
		Name:       filepath.Base(path),
		Path:       path,
		Mat:        mat,
		Width:      mat.Cols(),
		Height:     mat.Rows(),
		Channels:   mat.Channels(),
		ColorSpace: "BGR",
	}, nil
}

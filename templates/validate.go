package templates

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidImage means the preview image is not a supported raster type.
	ErrInvalidImage = errors.New("unsupported image format")

	// ErrInvalidFile means the template file is not a supported document type.
	ErrInvalidFile = errors.New("unsupported template format")
)

// raster types accepted for the preview image
var imageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// document extensions accepted for the template file
var templateExts = map[string]bool{
	"pdf":  true,
	"docx": true,
	"pptx": true,
	"xlsx": true,
}

func validImageType(contentType string) bool {
	return imageTypes[contentType]
}

func validTemplateName(filename string) bool {
	return templateExts[strings.ToLower(fileExt(filename))]
}

// fileExt returns the extension of filename without the dot, or "".
func fileExt(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i <= 0 {
		return ""
	}
	return filename[i+1:]
}

package fs

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
)

const placeholderSize = 48

var placeholderColor = color.RGBA{R: 0x9e, G: 0x9e, B: 0x9e, A: 0xff}

// WriteThumbnail copies the icon at iconPath to dst. When there is no usable
// icon a flat placeholder image is written instead, so every archive set has
// a thumbnail.
func (m *OSFilesystemManager) WriteThumbnail(iconPath, dst string) error {
	if iconPath != "" {
		if info, err := os.Stat(iconPath); err == nil && info.Mode().IsRegular() {
			return m.CopyFile(iconPath, dst)
		}
	}
	return writeAtomic(dst, 0644, writePlaceholder)
}

func writePlaceholder(w io.Writer) error {
	img := image.NewRGBA(image.Rect(0, 0, placeholderSize, placeholderSize))
	for y := 0; y < placeholderSize; y++ {
		for x := 0; x < placeholderSize; x++ {
			img.Set(x, y, placeholderColor)
		}
	}
	return png.Encode(w, img)
}

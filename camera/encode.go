package camera

import (
	"bytes"
	"image"
	"image/jpeg"
)

// Encode JPEG-encodes img at the given quality (0-100). Plain stdlib
// image/jpeg: none of the retrieved dependency pack carries a JPEG codec,
// so there is no third-party library to prefer here (see DESIGN.md).
func Encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package image

import (
	"bytes"
	"image"
	"image/png"

	"golang.org/x/xerrors"
)

type DiffResult struct {
	Image      image.Image
	DiffAmount float64
}

type Differ interface {
	Calculate(baseline image.Image, target image.Image) *DiffResult
}

// DecodePNG decodes data and rejects images without area.
func DecodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Errorf("failed to decode png: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, xerrors.New("image has zero dimensions")
	}
	return img, nil
}

// Dimensions reads the size of a PNG without decoding its pixels.
func Dimensions(data []byte) (int, int, error) {
	config, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, xerrors.Errorf("failed to decode png header: %w", err)
	}
	return config.Width, config.Height, nil
}

package image

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"
)

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func TestPixelDiff_Calculate(t *testing.T) {
	pd := NewPixelDiff(0.1)

	t.Run("NoDifference", func(t *testing.T) {
		img1 := createTestImage(100, 100, color.White)
		img2 := createTestImage(100, 100, color.White)

		result := pd.Calculate(img1, img2)

		if result.DiffAmount != 0.0 {
			t.Errorf("Expected DiffAmount to be 0.0, got %f", result.DiffAmount)
		}
	})

	t.Run("CompleteDifference", func(t *testing.T) {
		img1 := createTestImage(100, 100, color.White)
		img2 := createTestImage(100, 100, color.Black)

		result := pd.Calculate(img1, img2)

		if result.DiffAmount != 1.0 {
			t.Errorf("Expected DiffAmount to be 1.0, got %f", result.DiffAmount)
		}
	})

	t.Run("PartialDifference", func(t *testing.T) {
		img1 := createTestImage(100, 100, color.White)
		img2 := createTestImage(100, 100, color.White)

		for y := 0; y < 50; y++ {
			for x := 0; x < 100; x++ {
				img2.Set(x, y, color.Black)
			}
		}

		result := pd.Calculate(img1, img2)

		if result.DiffAmount != 0.5 {
			t.Errorf("Expected DiffAmount to be 0.5, got %f", result.DiffAmount)
		}
	})

	t.Run("HueChangeWithSimilarBrightness", func(t *testing.T) {
		img1 := createTestImage(10, 10, color.RGBA{R: 200, G: 50, B: 50, A: 255})
		img2 := createTestImage(10, 10, color.RGBA{R: 50, G: 50, B: 200, A: 255})

		result := pd.Calculate(img1, img2)

		if result.DiffAmount != 1.0 {
			t.Errorf("Expected DiffAmount to be 1.0, got %f", result.DiffAmount)
		}
	})

	t.Run("BelowThreshold", func(t *testing.T) {
		img1 := createTestImage(10, 10, color.RGBA{R: 100, G: 100, B: 100, A: 255})
		img2 := createTestImage(10, 10, color.RGBA{R: 110, G: 100, B: 100, A: 255})

		result := pd.Calculate(img1, img2)

		if result.DiffAmount != 0.0 {
			t.Errorf("Expected DiffAmount to be 0.0, got %f", result.DiffAmount)
		}
	})

	t.Run("DifferentHeights", func(t *testing.T) {
		img1 := createTestImage(100, 100, color.White)
		img2 := createTestImage(100, 50, color.White)

		result := pd.Calculate(img1, img2)

		if result.DiffAmount != 0.5 {
			t.Errorf("Expected DiffAmount to be 0.5, got %f", result.DiffAmount)
		}
	})

	t.Run("MixedImageTypes", func(t *testing.T) {
		img1 := createTestImage(20, 20, color.White)
		img2 := image.NewGray(image.Rect(0, 0, 20, 20))
		draw.Draw(img2, img2.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

		result := pd.Calculate(img1, img2)

		if result.DiffAmount != 0.0 {
			t.Errorf("Expected DiffAmount to be 0.0, got %f", result.DiffAmount)
		}
	})

	t.Run("SameImageInstance", func(t *testing.T) {
		img := createTestImage(100, 100, color.White)

		result := pd.Calculate(img, img)

		if result.DiffAmount != 0.0 {
			t.Errorf("Expected DiffAmount to be 0.0 for same image instance, got %f", result.DiffAmount)
		}
	})
}

func TestDecodePNG(t *testing.T) {
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, createTestImage(3, 2, color.White)); err != nil {
		t.Fatal(err)
	}

	img, err := DecodePNG(buffer.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Bounds().Dx() != 3 || img.Bounds().Dy() != 2 {
		t.Errorf("Expected 3x2, got %v", img.Bounds())
	}

	width, height, err := Dimensions(buffer.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if width != 3 || height != 2 {
		t.Errorf("Expected 3x2, got %dx%d", width, height)
	}

	if _, err := DecodePNG([]byte("not a png")); err == nil {
		t.Error("Expected error for invalid data")
	}
}

func BenchmarkPixelDiff_Calculate_Small(b *testing.B) {
	pd := NewPixelDiff(0.1)
	img1 := createTestImage(1280, 720, color.White)
	img2 := createTestImage(1280, 720, color.White)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pd.Calculate(img1, img2)
	}
}

func BenchmarkPixelDiff_Calculate_FullPage(b *testing.B) {
	pd := NewPixelDiff(0.1)
	img1 := createTestImage(1280, 6000, color.White)
	img2 := createTestImage(1280, 6000, color.Black)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pd.Calculate(img1, img2)
	}
}

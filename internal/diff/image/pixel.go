package image

import (
	"image"
	"image/color"
	"image/draw"
	"runtime"
	"sync"
	"sync/atomic"
)

// PixelDiff counts pixels whose color moved by more than threshold on any
// channel. Changed pixels are painted red when the target is at least as
// bright as the baseline and blue otherwise; pixels covered by only one of
// the images always count as changed.
type PixelDiff struct {
	threshold float64
}

func NewPixelDiff(threshold float64) *PixelDiff {
	return &PixelDiff{
		threshold,
	}
}

var (
	brighter = color.RGBA{R: 255, A: 255}
	darker   = color.RGBA{B: 255, A: 255}
)

func (p *PixelDiff) Calculate(baseline image.Image, target image.Image) *DiffResult {
	if baseline == target {
		return &DiffResult{
			Image:      baseline,
			DiffAmount: 0.0,
		}
	}

	bounds := baseline.Bounds().Union(target.Bounds())
	diff := image.NewRGBA(bounds)
	draw.Draw(diff, bounds, &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	var changedPixelCount int64
	totalPixelCount := int64(bounds.Dx()) * int64(bounds.Dy())

	// Use GOMAXPROCS instead of runtime.NumCPU() to consider cgroup.
	numWorkers := runtime.GOMAXPROCS(0)
	height := bounds.Dy()
	if numWorkers > height {
		numWorkers = max(height, 1)
	}
	rowsPerWorker := height / numWorkers

	var process func(diff *image.RGBA, startY int, endY int, changed *int64)
	if b, ok := baseline.(*image.NRGBA); ok {
		if t, ok := target.(*image.NRGBA); ok {
			process = func(diff *image.RGBA, startY int, endY int, changed *int64) {
				p.processPix(b.Pix, b.Stride, b.Rect, t.Pix, t.Stride, t.Rect, diff, startY, endY, changed)
			}
		}
	}
	if b, ok := baseline.(*image.RGBA); ok {
		if t, ok := target.(*image.RGBA); ok {
			process = func(diff *image.RGBA, startY int, endY int, changed *int64) {
				p.processPix(b.Pix, b.Stride, b.Rect, t.Pix, t.Stride, t.Rect, diff, startY, endY, changed)
			}
		}
	}
	if process == nil {
		process = func(diff *image.RGBA, startY int, endY int, changed *int64) {
			p.processGeneric(baseline, target, diff, startY, endY, changed)
		}
	}

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		startY := bounds.Min.Y + i*rowsPerWorker
		endY := startY + rowsPerWorker
		if i == numWorkers-1 {
			endY = bounds.Max.Y
		}

		go func(startY int, endY int) {
			defer wg.Done()
			process(diff, startY, endY, &changedPixelCount)
		}(startY, endY)
	}
	wg.Wait()

	diffAmount := 0.0
	if totalPixelCount > 0 {
		diffAmount = float64(changedPixelCount) / float64(totalPixelCount)
	}

	return &DiffResult{
		Image:      diff,
		DiffAmount: diffAmount,
	}
}

// processPix compares 8-bit, 4-channel pixel buffers in place. RGBA and NRGBA
// share the layout; premultiplication does not matter for equality.
func (p *PixelDiff) processPix(bPix []uint8, bStride int, bRect image.Rectangle, tPix []uint8, tStride int, tRect image.Rectangle, diff *image.RGBA, startY int, endY int, changed *int64) {
	var localChanged int64
	bounds := diff.Bounds()

	for y := startY; y < endY; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			pt := image.Point{X: x, Y: y}
			d := diff.PixOffset(x, y)

			if !pt.In(bRect) || !pt.In(tRect) {
				diff.Pix[d] = brighter.R
				diff.Pix[d+1] = brighter.G
				diff.Pix[d+2] = brighter.B
				diff.Pix[d+3] = brighter.A
				localChanged++
				continue
			}

			bo := (y-bRect.Min.Y)*bStride + (x-bRect.Min.X)*4
			to := (y-tRect.Min.Y)*tStride + (x-tRect.Min.X)*4
			bc := color.RGBA{R: bPix[bo], G: bPix[bo+1], B: bPix[bo+2], A: bPix[bo+3]}
			tc := color.RGBA{R: tPix[to], G: tPix[to+1], B: tPix[to+2], A: tPix[to+3]}

			c, isChanged := p.compare(bc, tc)
			diff.Pix[d] = c.R
			diff.Pix[d+1] = c.G
			diff.Pix[d+2] = c.B
			diff.Pix[d+3] = c.A
			if isChanged {
				localChanged++
			}
		}
	}

	atomic.AddInt64(changed, localChanged)
}

func (p *PixelDiff) processGeneric(baseline image.Image, target image.Image, diff *image.RGBA, startY int, endY int, changed *int64) {
	var localChanged int64
	bounds := diff.Bounds()

	for y := startY; y < endY; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			pt := image.Point{X: x, Y: y}
			if !pt.In(baseline.Bounds()) || !pt.In(target.Bounds()) {
				diff.SetRGBA(x, y, brighter)
				localChanged++
				continue
			}

			bc := color.RGBAModel.Convert(baseline.At(x, y)).(color.RGBA)
			tc := color.RGBAModel.Convert(target.At(x, y)).(color.RGBA)

			c, isChanged := p.compare(bc, tc)
			diff.SetRGBA(x, y, c)
			if isChanged {
				localChanged++
			}
		}
	}

	atomic.AddInt64(changed, localChanged)
}

func (p *PixelDiff) compare(b color.RGBA, t color.RGBA) (color.RGBA, bool) {
	if b == t {
		return b, false
	}

	limit := int(p.threshold * 255)
	if absDiff(b.R, t.R) <= limit && absDiff(b.G, t.G) <= limit &&
		absDiff(b.B, t.B) <= limit && absDiff(b.A, t.A) <= limit {
		return b, false
	}

	if int(t.R)+int(t.G)+int(t.B) >= int(b.R)+int(b.G)+int(b.B) {
		return brighter, true
	}
	return darker, true
}

func absDiff(l uint8, r uint8) int {
	if l > r {
		return int(l - r)
	}
	return int(r - l)
}

package media

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"

	"golang.org/x/image/draw"

	_ "image/gif"  // register GIF decoder
	_ "image/png"  // register PNG decoder

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// Thumbnail geometry and encoding.
const (
	ThumbEdge    = 320
	ThumbQuality = 85
)

// ImageThumb writes a JPEG thumbnail of the image at src to dst, fitting
// within ThumbEdge on both axes while preserving aspect ratio. Images already
// inside the box are re-encoded without scaling.
func ImageThumb(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open image %s: %w", src, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode image %s: %w", src, err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("decode image %s: empty bounds", src)
	}

	scale := 1.0
	if w > ThumbEdge || h > ThumbEdge {
		sx := float64(ThumbEdge) / float64(w)
		sy := float64(ThumbEdge) / float64(h)
		scale = sx
		if sy < sx {
			scale = sy
		}
	}
	tw := int(float64(w) * scale)
	th := int(float64(h) * scale)
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}

	thumb := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(thumb, thumb.Bounds(), img, bounds, draw.Over, nil)

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create thumbnail %s: %w", dst, err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, thumb, &jpeg.Options{Quality: ThumbQuality}); err != nil {
		return fmt.Errorf("encode thumbnail %s: %w", dst, err)
	}
	return nil
}

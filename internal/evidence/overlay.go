package evidence

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Overlay constants mirror the console's evidence styling and are not
// configurable per capture.
const (
	zoomFraction = 0.4

	standardInset = 10
	standardWidth = 4

	zoomInset = 20
	zoomWidth = 5

	labelX = 30
	labelY = 60
)

var (
	standardBorder = color.RGBA{R: 0x00, G: 0xf0, B: 0xff, A: 0xff}
	zoomBorder     = color.RGBA{R: 0xff, G: 0x00, B: 0x00, A: 0xff}
)

// annotateStandard draws the plain evidence border around the full frame.
func annotateStandard(src image.Image) image.Image {
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	drawBorder(dst, standardInset, standardWidth, standardBorder)
	return dst
}

// annotateZoom re-renders a centered crop at zoomFraction of each axis back
// up to the full frame size, then stamps the border and timestamp label.
func annotateZoom(src image.Image, label string) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	sw := int(float64(w) * zoomFraction)
	sh := int(float64(h) * zoomFraction)
	sx := bounds.Min.X + (w-sw)/2
	sy := bounds.Min.Y + (h-sh)/2
	cropRect := image.Rect(sx, sy, sx+sw, sy+sh)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, cropRect, draw.Src, nil)

	drawBorder(dst, zoomInset, zoomWidth, zoomBorder)
	drawLabel(dst, label, zoomBorder)

	return dst
}

func drawBorder(dst *image.RGBA, inset, width int, c color.RGBA) {
	bounds := dst.Bounds()
	outer := bounds.Inset(inset)
	inner := outer.Inset(width)
	fill := image.NewUniform(c)

	// Four strips: top, bottom, left, right.
	draw.Draw(dst, image.Rect(outer.Min.X, outer.Min.Y, outer.Max.X, inner.Min.Y), fill, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(outer.Min.X, inner.Max.Y, outer.Max.X, outer.Max.Y), fill, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(outer.Min.X, inner.Min.Y, inner.Min.X, inner.Max.Y), fill, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(inner.Max.X, inner.Min.Y, outer.Max.X, inner.Max.Y), fill, image.Point{}, draw.Src)
}

func drawLabel(dst *image.RGBA, label string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(labelX, labelY),
	}
	d.DrawString(label)
}

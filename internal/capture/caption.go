package capture

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const captionPadding = 4

var (
	captionText       = color.RGBA{255, 255, 255, 255}
	captionBackground = color.RGBA{0, 0, 0, 160}
)

// drawCaption stamps text in the bottom-left corner of img on a translucent
// background strip.
func drawCaption(img *image.RGBA, text string) {
	if text == "" {
		return
	}

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(captionText),
		Face: face,
	}

	textWidth := d.MeasureString(text).Ceil()
	lineHeight := face.Metrics().Height.Ceil()

	bounds := img.Bounds()
	box := image.Rect(
		bounds.Min.X,
		bounds.Max.Y-lineHeight-captionPadding*2,
		bounds.Min.X+textWidth+captionPadding*2,
		bounds.Max.Y,
	).Intersect(bounds)
	if box.Empty() {
		return
	}
	draw.Draw(img, box, image.NewUniform(captionBackground), image.Point{}, draw.Over)

	d.Dot = fixed.Point26_6{
		X: fixed.I(box.Min.X + captionPadding),
		Y: fixed.I(box.Max.Y-captionPadding) - face.Metrics().Descent,
	}
	d.DrawString(text)
}

package tabsignal

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const iconSize = 32

var badgeRed = color.RGBA{R: 0xef, G: 0x44, B: 0x44, A: 0xff}

// BadgeLabel 返回角标上绘制的文本，超过 9 显示 "9+"。
func BadgeLabel(count int) string {
	if count > 9 {
		return "9+"
	}
	return strconv.Itoa(count)
}

// RenderBadge 绘制带计数的红点，返回可作 favicon href 的 PNG data URL。
func RenderBadge(count int) (string, error) {
	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
	draw.Draw(img, img.Bounds(), image.Transparent, image.Point{}, draw.Src)

	fillCircle(img, iconSize/2, iconSize/2, iconSize/2-1, badgeRed)

	label := BadgeLabel(count)
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.White, Face: face}
	width := d.MeasureString(label).Ceil()
	x := (iconSize - width) / 2
	y := (iconSize+face.Ascent-face.Descent)/2 + 1
	d.Dot = fixed.P(x, y)
	d.DrawString(label)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func fillCircle(img *image.RGBA, cx, cy, r int, c color.Color) {
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r {
				img.Set(x, y, c)
			}
		}
	}
}

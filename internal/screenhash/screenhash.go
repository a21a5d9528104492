// Package screenhash computes the two change-detection signals the screen
// watcher and session state compare on every sample: a structural hash
// folded over flattened accessibility-tree attributes, and a perceptual
// difference-hash (dHash) over a captured screenshot.
package screenhash

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"
	"image"
	"image/png"
	"math/bits"

	"github.com/qorvex/qorvex/internal/element"
)

// pngSignature is the fixed 8-byte magic every PNG file starts with.
var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// Dimensions reads width and height out of a PNG's IHDR chunk without
// decoding the image, returning ok=false if data is too short or does not
// start with the PNG signature.
func Dimensions(data []byte) (width, height int, ok bool) {
	if len(data) < 24 || !bytes.Equal(data[:8], pngSignature) {
		return 0, 0, false
	}
	w := int(binary.BigEndian.Uint32(data[16:20]))
	h := int(binary.BigEndian.Uint32(data[20:24]))
	if w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// Structural folds a 64-bit FNV hash over every flattened element's
// identifier, label, value, type, and frame (coordinates cast to integer
// points), in pre-order (§4.8).
func Structural(roots []element.UIElement) uint64 {
	h := fnv.New64a()
	for _, el := range element.ListElements(roots) {
		writeField(h, el.Identifier)
		writeField(h, el.Label)
		writeField(h, el.Value)
		writeField(h, el.Type)
		writeFrame(h, el.Frame)
	}
	return h.Sum64()
}

func writeField(h interface{ Write([]byte) (int, error) }, s *string) {
	if s != nil {
		_, _ = h.Write([]byte(*s))
	}
	_, _ = h.Write([]byte{0})
}

func writeFrame(h interface{ Write([]byte) (int, error) }, f *element.Frame) {
	if f == nil {
		_, _ = h.Write([]byte{0})
		return
	}
	var b [4]byte
	for _, v := range [4]int{int(f.X), int(f.Y), int(f.Width), int(f.Height)} {
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
		b[3] = byte(v >> 24)
		_, _ = h.Write(b[:])
	}
}

// dHash dimensions: a 9x8 grayscale resize yields 8 horizontal neighbour
// pairs per row across 8 rows, one bit each, packed into a uint64.
const (
	dHashWidth  = 9
	dHashHeight = 8
)

// Perceptual computes a difference hash over PNG-encoded screenshot bytes
// (§4.8, §9 GLOSSARY "dHash"): resize to 9x8 grayscale, then emit one bit
// per horizontal neighbour pair — 1 if the left pixel is brighter.
//
// Decoding failures (not a valid PNG) yield a zero hash rather than an
// error: hashing is a best-effort change signal, not a correctness-load
// bearing operation.
func Perceptual(pngBytes []byte) uint64 {
	img, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return 0
	}
	gray := resizeGray(img, dHashWidth, dHashHeight)

	var hash uint64
	bit := uint(0)
	for y := 0; y < dHashHeight; y++ {
		for x := 0; x < dHashWidth-1; x++ {
			left := gray[y*dHashWidth+x]
			right := gray[y*dHashWidth+x+1]
			if left > right {
				hash |= 1 << bit
			}
			bit++
		}
	}
	return hash
}

// resizeGray nearest-neighbour resizes img to w x h and converts to
// 8-bit grayscale luminance, avoiding a third-party imaging dependency
// for this one small operation.
func resizeGray(img image.Image, w, h int) []byte {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	out := make([]byte, w*h)
	for y := 0; y < h; y++ {
		sy := bounds.Min.Y + y*srcH/h
		for x := 0; x < w; x++ {
			sx := bounds.Min.X + x*srcW/w
			r, g, b, _ := img.At(sx, sy).RGBA()
			// Rec. 601 luma, inputs are 16-bit per channel.
			lum := (299*r + 587*g + 114*b) / 1000
			out[y*w+x] = byte(lum >> 8)
		}
	}
	return out
}

// HammingDistance returns the popcount of a XOR b.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

package frame

import "image"

type cacheKey struct {
	width, height, rotation int
}

// Normalizer converts raw frames into upright RGB images.
//
// The destination buffer is cached and only reallocated when the
// (width, height, rotation) key changes. The image returned by Normalize is
// valid until the next call. A Normalizer is not safe for concurrent use.
type Normalizer struct {
	key      cacheKey
	img      *UprightImage
	reallocs int
}

// NewNormalizer creates a normalizer with an empty cache.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize unpacks the frame's interleaved plane and rotates it upright.
// Invalid frames leave the cache untouched.
func (n *Normalizer) Normalize(f Frame) (*UprightImage, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	n.ensure(f.Width, f.Height, f.Rotation)
	dst := n.img.Image

	w, h := f.Width, f.Height
	for y := 0; y < h; y++ {
		src := f.Data[y*f.RowStride:]
		for x := 0; x < w; x++ {
			s := x * f.PixelStride
			var dx, dy int
			switch f.Rotation {
			case 90:
				dx, dy = h-1-y, x
			case 180:
				dx, dy = w-1-x, h-1-y
			case 270:
				dx, dy = y, w-1-x
			default:
				dx, dy = x, y
			}
			d := dy*dst.Stride + dx*4
			dst.Pix[d] = src[s]
			dst.Pix[d+1] = src[s+1]
			dst.Pix[d+2] = src[s+2]
			dst.Pix[d+3] = 0xff
		}
	}

	return n.img, nil
}

// Reallocations returns how many times the scratch buffer was (re)allocated.
func (n *Normalizer) Reallocations() int {
	return n.reallocs
}

func (n *Normalizer) ensure(width, height, rotation int) {
	key := cacheKey{width: width, height: height, rotation: rotation}
	if n.img != nil && n.key == key {
		return
	}

	dw, dh := width, height
	if rotation == 90 || rotation == 270 {
		dw, dh = height, width
	}
	n.key = key
	n.img = &UprightImage{
		Width:  dw,
		Height: dh,
		Image:  image.NewNRGBA(image.Rect(0, 0, dw, dh)),
	}
	n.reallocs++
}

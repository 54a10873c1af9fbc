package motion

import "image"

// toGray writes BT.601 luma for each pixel of src into dst
func toGray(src *image.RGBA, dst []uint8) {
	pix := src.Pix
	for i := range dst {
		p := pix[i*4 : i*4+3 : i*4+3]
		r, g, b := uint32(p[0]), uint32(p[1]), uint32(p[2])
		dst[i] = uint8((19595*r + 38470*g + 7471*b + 1<<15) >> 16)
	}
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// boxBlur applies a separable (2r+1)x(2r+1) mean filter in place, replicating edges
func boxBlur(buf, tmp []uint8, w, h, r int) {
	if r <= 0 {
		return
	}
	div := 2*r + 1

	for y := 0; y < h; y++ {
		row := buf[y*w : (y+1)*w]
		out := tmp[y*w : (y+1)*w]
		sum := 0
		for i := -r; i <= r; i++ {
			sum += int(row[clamp(i, w)])
		}
		for x := 0; x < w; x++ {
			out[x] = uint8((sum + div/2) / div)
			sum += int(row[clamp(x+r+1, w)]) - int(row[clamp(x-r, w)])
		}
	}

	for x := 0; x < w; x++ {
		sum := 0
		for i := -r; i <= r; i++ {
			sum += int(tmp[clamp(i, h)*w+x])
		}
		for y := 0; y < h; y++ {
			buf[y*w+x] = uint8((sum + div/2) / div)
			sum += int(tmp[clamp(y+r+1, h)*w+x]) - int(tmp[clamp(y-r, h)*w+x])
		}
	}
}

// dilate grows foreground by a (2r+1) square kernel
func dilate(mask, tmp []uint8, w, h, r int) {
	morph(mask, tmp, w, h, r, func(a, b uint8) bool { return b > a })
}

// erode shrinks foreground by a (2r+1) square kernel
func erode(mask, tmp []uint8, w, h, r int) {
	morph(mask, tmp, w, h, r, func(a, b uint8) bool { return b < a })
}

// morph runs a separable rank filter; better(a, b) reports whether b replaces a
func morph(mask, tmp []uint8, w, h, r int, better func(a, b uint8) bool) {
	if r <= 0 {
		return
	}

	for y := 0; y < h; y++ {
		base := y * w
		for x := 0; x < w; x++ {
			v := mask[base+x]
			for i := x - r; i <= x+r; i++ {
				if c := mask[base+clamp(i, w)]; better(v, c) {
					v = c
				}
			}
			tmp[base+x] = v
		}
	}

	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			v := tmp[y*w+x]
			for i := y - r; i <= y+r; i++ {
				if c := tmp[clamp(i, h)*w+x]; better(v, c) {
					v = c
				}
			}
			mask[y*w+x] = v
		}
	}
}

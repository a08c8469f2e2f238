package captcha

import (
	"errors"
	"image"
	"image/color"
	"math"
	"math/rand"

	"icplookup/internal/logging"
)

// Sentinel colors for the recolored thumbnail. These match the encoding
// the similarity model was trained against and must not be changed.
var (
	maskColor       = color.RGBA{255, 255, 255, 255}
	backgroundColor = color.RGBA{255, 143, 0, 255}
)

// Denoiser rebuilds a detected crop as a two-color thumbnail: pixels near
// the crop's dominant color become white, everything else becomes the
// fixed background color. This strips the target's overlay noise before
// similarity scoring.
type Denoiser struct {
	K                int     // k-means cluster count
	ColorTolerance   float64 // Euclidean RGB distance counted as "dominant"
	MinComponentArea int     // connected components smaller than this are dropped
	Seed             int64   // k-means centroid init seed; fixed for reproducibility
}

// NewDenoiser returns a denoiser with the tuning the target site needs.
func NewDenoiser() *Denoiser {
	return &Denoiser{
		K:                8,
		ColorTolerance:   40,
		MinComponentArea: 20,
		Seed:             1,
	}
}

// k-means convergence criteria, matching the reference implementation.
const (
	kmeansAttempts = 10
	kmeansMaxIter  = 20
	kmeansEpsilon  = 1.0
)

// Clean produces the denoised thumbnail for one crop.
func (d *Denoiser) Clean(crop *image.RGBA) (*image.RGBA, error) {
	b := crop.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("empty crop")
	}

	// Dominant color comes from the central 1/3 region only; the piece
	// sits in the middle of the box and the edges are mostly backdrop.
	cx, cy := w/2, h/2
	rw, rh := w/3, h/3
	region := image.Rect(cx-rw/2, cy-rh/2, cx+rw/2, cy+rh/2).Intersect(image.Rect(0, 0, w, h))
	if region.Empty() {
		return nil, errors.New("central region is empty")
	}

	pixels := make([][3]float64, 0, region.Dx()*region.Dy())
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			i := y*crop.Stride + x*4
			pixels = append(pixels, [3]float64{
				float64(crop.Pix[i]),
				float64(crop.Pix[i+1]),
				float64(crop.Pix[i+2]),
			})
		}
	}

	k := d.K
	if len(pixels) < k {
		k = len(pixels)
	}
	rng := rand.New(rand.NewSource(d.Seed))
	labels, centers := kmeans(pixels, k, rng)

	counts := make([]int, k)
	for _, l := range labels {
		counts[l]++
	}
	dominant := centers[argmaxInt(counts)]

	// Mask over the whole crop, not just the sampled region.
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*crop.Stride + x*4
			dr := float64(crop.Pix[i]) - dominant[0]
			dg := float64(crop.Pix[i+1]) - dominant[1]
			db := float64(crop.Pix[i+2]) - dominant[2]
			if math.Sqrt(dr*dr+dg*dg+db*db) <= d.ColorTolerance {
				mask[y*w+x] = true
			}
		}
	}

	// The reference pipeline opens and closes with a 1x1 kernel. That
	// kernel size makes both passes identity transforms, but it is kept
	// because the downstream tuning was done against this exact chain.
	mask = morphOpen(mask, w, h, 1)
	mask = morphClose(mask, w, h, 1)
	mask = dropSmallComponents(mask, w, h, d.MinComponentArea)

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	paint := func() {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := backgroundColor
				if mask[y*w+x] {
					c = maskColor
				}
				i := y*out.Stride + x*4
				out.Pix[i] = c.R
				out.Pix[i+1] = c.G
				out.Pix[i+2] = c.B
				out.Pix[i+3] = c.A
			}
		}
	}
	paint()

	// Empirically-tuned quirk inherited from the reference solver: when
	// the recolored image ends up with two or more non-background colors,
	// it is repainted with the same white-on-background convention. Do
	// not "simplify" this away; the similarity model's accuracy was
	// measured against this exact behavior.
	if countNonBackgroundColors(out) >= 2 {
		paint()
	}

	logging.CaptchaDebug("denoised crop %dx%d dominant=(%.0f,%.0f,%.0f)", w, h, dominant[0], dominant[1], dominant[2])
	return out, nil
}

// kmeans clusters RGB pixels, returning per-pixel labels and centroids.
// It runs kmeansAttempts independent seeded initializations and keeps the
// one with the lowest compactness, like the reference implementation.
func kmeans(pixels [][3]float64, k int, rng *rand.Rand) ([]int, [][3]float64) {
	bestCompactness := math.Inf(1)
	var bestLabels []int
	var bestCenters [][3]float64

	for attempt := 0; attempt < kmeansAttempts; attempt++ {
		labels, centers, compactness := kmeansOnce(pixels, k, rng)
		if compactness < bestCompactness {
			bestCompactness = compactness
			bestLabels = labels
			bestCenters = centers
		}
	}
	return bestLabels, bestCenters
}

func kmeansOnce(pixels [][3]float64, k int, rng *rand.Rand) ([]int, [][3]float64, float64) {
	centers := make([][3]float64, k)
	for i := range centers {
		centers[i] = pixels[rng.Intn(len(pixels))]
	}

	labels := make([]int, len(pixels))
	for iter := 0; iter < kmeansMaxIter; iter++ {
		for i, p := range pixels {
			labels[i] = nearestCenter(p, centers)
		}

		var shift float64
		sums := make([][3]float64, k)
		counts := make([]int, k)
		for i, p := range pixels {
			l := labels[i]
			sums[l][0] += p[0]
			sums[l][1] += p[1]
			sums[l][2] += p[2]
			counts[l]++
		}
		for i := range centers {
			if counts[i] == 0 {
				continue
			}
			next := [3]float64{
				sums[i][0] / float64(counts[i]),
				sums[i][1] / float64(counts[i]),
				sums[i][2] / float64(counts[i]),
			}
			shift = math.Max(shift, dist3(centers[i], next))
			centers[i] = next
		}
		if shift < kmeansEpsilon {
			break
		}
	}

	var compactness float64
	for i, p := range pixels {
		d := dist3(p, centers[labels[i]])
		compactness += d * d
	}
	return labels, centers, compactness
}

func nearestCenter(p [3]float64, centers [][3]float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, c := range centers {
		if d := dist3(p, c); d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func dist3(a, b [3]float64) float64 {
	dr := a[0] - b[0]
	dg := a[1] - b[1]
	db := a[2] - b[2]
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

// morphOpen erodes then dilates with a size x size square kernel.
func morphOpen(mask []bool, w, h, size int) []bool {
	return dilate(erode(mask, w, h, size), w, h, size)
}

// morphClose dilates then erodes with a size x size square kernel.
func morphClose(mask []bool, w, h, size int) []bool {
	return erode(dilate(mask, w, h, size), w, h, size)
}

func erode(mask []bool, w, h, size int) []bool {
	r := size / 2
	if r == 0 {
		out := make([]bool, len(mask))
		copy(out, mask)
		return out
	}
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			keep := true
			for dy := -r; dy <= r && keep; dy++ {
				for dx := -r; dx <= r; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h || !mask[ny*w+nx] {
						keep = false
						break
					}
				}
			}
			out[y*w+x] = keep
		}
	}
	return out
}

func dilate(mask []bool, w, h, size int) []bool {
	r := size / 2
	if r == 0 {
		out := make([]bool, len(mask))
		copy(out, mask)
		return out
	}
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hit := false
			for dy := -r; dy <= r && !hit; dy++ {
				for dx := -r; dx <= r; dx++ {
					nx, ny := x+dx, y+dy
					if nx >= 0 && ny >= 0 && nx < w && ny < h && mask[ny*w+nx] {
						hit = true
						break
					}
				}
			}
			out[y*w+x] = hit
		}
	}
	return out
}

// dropSmallComponents removes 8-connected mask components smaller than
// minArea pixels.
func dropSmallComponents(mask []bool, w, h, minArea int) []bool {
	out := make([]bool, len(mask))
	visited := make([]bool, len(mask))
	var stack []int
	neighbors := [8][2]int{{-1, -1}, {0, -1}, {1, -1}, {-1, 0}, {1, 0}, {-1, 1}, {0, 1}, {1, 1}}

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}
		component := []int{start}
		visited[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%w, idx/w
			for _, n := range neighbors {
				nx, ny := x+n[0], y+n[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				ni := ny*w + nx
				if mask[ni] && !visited[ni] {
					visited[ni] = true
					component = append(component, ni)
					stack = append(stack, ni)
				}
			}
		}
		if len(component) >= minArea {
			for _, idx := range component {
				out[idx] = true
			}
		}
	}
	return out
}

func countNonBackgroundColors(img *image.RGBA) int {
	seen := make(map[color.RGBA]struct{})
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := y*img.Stride + x*4
			c := color.RGBA{img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]}
			if c != backgroundColor {
				seen[c] = struct{}{}
			}
		}
	}
	return len(seen)
}

func argmaxInt(values []int) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

package audio

import (
	"fmt"
	"math"
)

const (
	// sincZeroCrossings is the number of sinc lobes kept on each side of the kernel
	sincZeroCrossings = 6
	// sincRolloff places the low-pass cutoff just below the Nyquist frequency
	sincRolloff = 0.99
	// maxCachedPhases bounds the polyphase kernel table for awkward rate ratios
	maxCachedPhases = 4096
)

// Resampler converts between two sample rates with a Hann-windowed sinc low-pass
// interpolator. A Resampler holds only immutable tables and is safe for concurrent use.
type Resampler struct {
	inRate  int
	outRate int

	// reduced ratio: output sample n sits at input position n*step/phases
	step   int64
	phases int64

	cutoff float64
	width  int

	kernels [][]float64
}

// NewResampler prepares a resampler from inRate to outRate
func NewResampler(inRate, outRate int) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d -> %d", inRate, outRate)
	}

	g := gcd(inRate, outRate)
	r := &Resampler{
		inRate:  inRate,
		outRate: outRate,
		step:    int64(inRate / g),
		phases:  int64(outRate / g),
		cutoff:  math.Min(1, float64(outRate)/float64(inRate)) * sincRolloff,
	}
	r.width = int(math.Ceil(sincZeroCrossings / r.cutoff))

	if r.phases <= maxCachedPhases {
		r.kernels = make([][]float64, r.phases)
		for p := int64(0); p < r.phases; p++ {
			r.kernels[p] = r.kernel(p, make([]float64, 2*r.width))
		}
	}

	return r, nil
}

// OutputLength returns the number of samples produced for n input samples
func (r *Resampler) OutputLength(n int) int {
	if n <= 0 {
		return 0
	}
	return int((int64(n)*r.phases + r.step - 1) / r.step)
}

// Resample converts mono samples from the input rate to the output rate
func (r *Resampler) Resample(in []float32) []float32 {
	if r.inRate == r.outRate {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}

	out := make([]float32, r.OutputLength(len(in)))
	var scratch []float64
	if r.kernels == nil {
		scratch = make([]float64, 2*r.width)
	}

	for n := range out {
		pos := int64(n) * r.step
		base := int(pos / r.phases)
		phase := pos % r.phases

		var taps []float64
		if r.kernels != nil {
			taps = r.kernels[phase]
		} else {
			taps = r.kernel(phase, scratch)
		}

		first := base - r.width + 1
		var acc float64
		for j, h := range taps {
			k := first + j
			if k < 0 || k >= len(in) {
				continue
			}
			acc += float64(in[k]) * h
		}
		out[n] = float32(acc)
	}

	return out
}

// kernel fills dst with the taps for one fractional phase. Tap j weights input sample
// base-width+1+j; taps are normalized to unit DC gain.
func (r *Resampler) kernel(phase int64, dst []float64) []float64 {
	frac := float64(phase) / float64(r.phases)
	var sum float64
	for j := range dst {
		d := frac + float64(r.width-1-j)
		h := r.cutoff * sinc(r.cutoff*d) * hann(d/float64(r.width))
		dst[j] = h
		sum += h
	}
	if sum != 0 {
		for j := range dst {
			dst[j] /= sum
		}
	}
	return dst
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

func hann(x float64) float64 {
	if x <= -1 || x >= 1 {
		return 0
	}
	c := math.Cos(math.Pi * x / 2)
	return c * c
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

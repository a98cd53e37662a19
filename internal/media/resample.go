package media

import "math"

// Resampler converts between 8kHz and 16kHz mono PCM16 using a windowed-sinc
// FIR low-pass filter applied around the rate change: zero-stuffed
// interpolation when upsampling, decimation when downsampling. The trailing
// tap history persists across calls to Process so that 20ms frame
// boundaries do not introduce audible clicks or discontinuities. A
// Resampler is bound to one direction for one call and is not safe for
// concurrent use.
type Resampler struct {
	fromRate int
	toRate   int
	taps     []float64
	history  []float64 // last len(taps)-1 input samples, carried across frames
}

const numTaps = 33

// NewResampler creates a Resampler converting fromRate to toRate. Only
// 8000<->16000 is exercised by this bridge; the filter design is generic
// for any 2x/0.5x rate pair.
func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{
		fromRate: fromRate,
		toRate:   toRate,
		taps:     firLowPass(numTaps, 0.45),
		history:  make([]float64, numTaps-1),
	}
}

// firLowPass builds a Hamming-windowed sinc low-pass kernel with the given
// tap count and cutoff expressed as a fraction of the Nyquist frequency.
func firLowPass(taps int, cutoff float64) []float64 {
	kernel := make([]float64, taps)
	mid := float64(taps-1) / 2
	// Normalized cutoff in cycles per sample (Nyquist is 0.5).
	fc := cutoff / 2
	var sum float64
	for i := 0; i < taps; i++ {
		x := float64(i) - mid
		var sinc float64
		if x == 0 {
			sinc = 2 * fc
		} else {
			sinc = math.Sin(2*math.Pi*fc*x) / (math.Pi * x)
		}
		window := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(taps-1))
		kernel[i] = sinc * window
		sum += kernel[i]
	}
	if sum != 0 {
		for i := range kernel {
			kernel[i] /= sum
		}
	}
	return kernel
}

// Process filters and rate-converts one frame of PCM16 samples.
func (r *Resampler) Process(in []int16) []int16 {
	switch {
	case r.fromRate == r.toRate:
		return in
	case r.toRate == 2*r.fromRate:
		return r.upsample2x(in)
	case r.fromRate == 2*r.toRate:
		return r.downsample2x(in)
	default:
		return in
	}
}

// upsample2x zero-stuffs then low-pass filters, doubling the sample count.
func (r *Resampler) upsample2x(in []int16) []int16 {
	histLen := len(r.history)
	stuffed := make([]float64, len(in)*2+histLen)
	copy(stuffed, r.history)
	for i, s := range in {
		// Scale by 2 to restore the energy lost to the interleaved zero samples.
		stuffed[histLen+2*i] = float64(s) * 2
	}

	out := make([]int16, len(in)*2)
	for i := range out {
		out[i] = clampInt16(r.convolveAt(stuffed, histLen+i))
	}

	r.saveHistory(stuffed)
	return out
}

// downsample2x low-pass filters then decimates by 2, halving the sample count.
func (r *Resampler) downsample2x(in []int16) []int16 {
	histLen := len(r.history)
	buf := make([]float64, len(in)+histLen)
	copy(buf, r.history)
	for i, s := range in {
		buf[histLen+i] = float64(s)
	}

	out := make([]int16, len(in)/2)
	for i := range out {
		out[i] = clampInt16(r.convolveAt(buf, histLen+2*i))
	}

	r.saveHistory(buf)
	return out
}

// convolveAt computes the FIR output for the tap window centered so that
// the filter is causal: samples[0:center] act as the trailing history.
func (r *Resampler) convolveAt(samples []float64, center int) float64 {
	var acc float64
	half := len(r.taps) - 1
	for t, tap := range r.taps {
		idx := center - half + t
		if idx >= 0 && idx < len(samples) {
			acc += samples[idx] * tap
		}
	}
	return acc
}

func (r *Resampler) saveHistory(samples []float64) {
	histLen := len(r.history)
	if len(samples) >= histLen {
		copy(r.history, samples[len(samples)-histLen:])
	}
}

func clampInt16(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}

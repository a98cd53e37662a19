package media

import "math"

// InbandDetector recognizes DTMF tones carried in-band (as audio energy
// rather than RFC 4733 telephone-event packets), for trunks or endpoints
// that do not negotiate out-of-band DTMF. It runs the Goertzel algorithm
// against the eight standard DTMF frequencies on each frame of PCM16
// samples and debounces repeated detections of the same digit.
type InbandDetector struct {
	sampleRate int
	lastDigit  rune
	holdFrames int // consecutive frames the current digit has been held
}

// dtmfLowFreqs and dtmfHighFreqs are the row/column frequencies of the
// standard DTMF keypad matrix (ITU-T Q.23/Q.24).
var dtmfLowFreqs = [4]float64{697, 770, 852, 941}
var dtmfHighFreqs = [4]float64{1209, 1336, 1477, 1633}

var dtmfKeypad = [4][4]rune{
	{'1', '2', '3', 'A'},
	{'4', '5', '6', 'B'},
	{'7', '8', '9', 'C'},
	{'*', '0', '#', 'D'},
}

// twistToleranceDB bounds the allowed power imbalance between the detected
// low-group and high-group tones; DTMF generators keep this within a few dB,
// so a wide deviation indicates the "tone" is actually voice or noise.
const twistToleranceDB = 8.0

// minFrameEnergy is a floor below which a frame is treated as silence.
const minFrameEnergy = 1e5

// NewInbandDetector creates a detector for PCM16 audio at the given sample
// rate (8000 for RTP-side G.711 audio, 16000 for the AI-bridge side).
func NewInbandDetector(sampleRate int) *InbandDetector {
	return &InbandDetector{sampleRate: sampleRate}
}

// Detect runs Goertzel power estimation for all eight DTMF frequencies over
// one frame of samples and returns the recognized digit, or ('\x00', false)
// if the frame contains no clear tone. A digit is only reported once per
// continuous run of frames in which it is held (debounced); callers should
// feed successive frames to track the start/stop of a press.
func (d *InbandDetector) Detect(samples []int16) (rune, bool) {
	var energy float64
	for _, s := range samples {
		f := float64(s)
		energy += f * f
	}
	if energy < minFrameEnergy*float64(len(samples)) {
		d.holdFrames = 0
		d.lastDigit = 0
		return 0, false
	}

	lowPowers := make([]float64, len(dtmfLowFreqs))
	for i, f := range dtmfLowFreqs {
		lowPowers[i] = goertzelPower(samples, f, d.sampleRate)
	}
	highPowers := make([]float64, len(dtmfHighFreqs))
	for i, f := range dtmfHighFreqs {
		highPowers[i] = goertzelPower(samples, f, d.sampleRate)
	}

	lowIdx := argmax(lowPowers)
	highIdx := argmax(highPowers)

	if !isDominant(lowPowers, lowIdx) || !isDominant(highPowers, highIdx) {
		d.holdFrames = 0
		d.lastDigit = 0
		return 0, false
	}

	twistDB := 10 * math.Log10(lowPowers[lowIdx]/highPowers[highIdx])
	if math.Abs(twistDB) > twistToleranceDB {
		d.holdFrames = 0
		d.lastDigit = 0
		return 0, false
	}

	digit := dtmfKeypad[lowIdx][highIdx]
	if digit == d.lastDigit {
		d.holdFrames++
	} else {
		d.lastDigit = digit
		d.holdFrames = 1
	}

	// Require two consecutive frames (40ms at 20ms/frame) before reporting,
	// so a single noisy frame does not register a false digit.
	if d.holdFrames == 2 {
		return digit, true
	}
	return 0, false
}

// goertzelPower computes the single-frequency power of samples at freq Hz
// using the Goertzel algorithm, equivalent to a one-bin DFT but far cheaper.
func goertzelPower(samples []int16, freq float64, sampleRate int) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}
	k := int(0.5 + float64(n)*freq/float64(sampleRate))
	omega := 2 * math.Pi * float64(k) / float64(n)
	coeff := 2 * math.Cos(omega)

	var s0, s1, s2 float64
	for _, sample := range samples {
		s0 = float64(sample) + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}

func argmax(vals []float64) int {
	best := 0
	for i, v := range vals {
		if v > vals[best] {
			best = i
		}
	}
	return best
}

// isDominant reports whether vals[idx] clearly stands out from the other
// candidate frequencies in the same group, rejecting broadband noise that
// happens to have some energy at every bin.
func isDominant(vals []float64, idx int) bool {
	const dominanceRatio = 2.5
	for i, v := range vals {
		if i == idx {
			continue
		}
		if vals[idx] < v*dominanceRatio {
			return false
		}
	}
	return true
}

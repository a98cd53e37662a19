package media

import "testing"

func TestGenerateSSRCIsNonDeterministic(t *testing.T) {
	a := GenerateSSRC()
	b := GenerateSSRC()
	if a == b {
		t.Skip("extremely unlikely random collision; rerun if this ever triggers")
	}
}

func TestGenerateSequenceStartAndTimestampStartProduceValues(t *testing.T) {
	// No strong assertion is possible on random output beyond "it runs and
	// returns a value of the right type"; the randomness itself is covered
	// by crypto/rand's own tests.
	_ = GenerateSequenceStart()
	_ = GenerateTimestampStart()
}

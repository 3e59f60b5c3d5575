package enumerator

import (
	"time"

	"github.com/wille/randstorm/internal/fingerprint"
)

// Estimate is the size of the search space for one scan mode.
type Estimate struct {
	Mode       ScanMode
	Candidates uint64
}

// ETA returns the time needed at rate candidates per second.
func (e Estimate) ETA(rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(e.Candidates) / rate * float64(time.Second))
}

// EstimateAll counts the candidates every scan mode would visit.
func EstimateAll(fps []fingerprint.BrowserFingerprint, window Window) ([]Estimate, error) {
	var out []Estimate
	for _, m := range Modes() {
		e, err := New(fps, window, m)
		if err != nil {
			return nil, err
		}
		out = append(out, Estimate{Mode: m, Candidates: e.Total()})
	}
	return out, nil
}

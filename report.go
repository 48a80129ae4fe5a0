package clanbench

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// Separator divides sections of the console output.
var Separator = strings.Repeat("=", 40)

// TimingTable maps each strategy to the elapsed time of its most recent run.
type TimingTable map[StrategyID]time.Duration

// Comparison is one ordered pair of strategies and their time ratio.
type Comparison struct {
	A, B         StrategyID
	TimeA, TimeB time.Duration
	Ratio        float64 // TimeA / TimeB
}

// Compare returns every ordered pair of distinct strategies in t, following
// the map's iteration order. Both (A, B) and (B, A) are returned, with
// reciprocal ratios.
func Compare(t TimingTable) []Comparison {
	if len(t) < 2 {
		return nil
	}
	out := make([]Comparison, 0, len(t)*(len(t)-1))
	for a, ta := range t {
		for b, tb := range t {
			if a == b {
				continue
			}
			out = append(out, Comparison{A: a, B: b, TimeA: ta, TimeB: tb, Ratio: ratio(ta, tb)})
		}
	}
	return out
}

// ratio divides a by b. Two zero durations compare as equal; a zero
// denominator alone yields +Inf, whose reciprocal is the 0 of the reverse
// pair.
func ratio(a, b time.Duration) float64 {
	switch {
	case a == 0 && b == 0:
		return 1
	case b == 0:
		return math.Inf(1)
	}
	return float64(a) / float64(b)
}

// WriteReport prints one line per comparison followed by a separator.
func WriteReport(w io.Writer, cs []Comparison) error {
	for _, c := range cs {
		left := fmt.Sprintf("%s (time = %s) / %s (time = %s)", c.A, millis(c.TimeA), c.B, millis(c.TimeB))
		if _, err := fmt.Fprintf(w, "%-22s: %.2f\n", left, c.Ratio); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, Separator)
	return err
}

// millis formats d as fractional milliseconds.
func millis(d time.Duration) string {
	return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
}

package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/wfunc/planningpoker/models"
)

var leadingNumber = regexp.MustCompile(`^-?(\d+\.?\d*|\.\d+)`)

// cardValue extracts a number from a card label. Everything except digits,
// '.' and '-' is dropped first, then the longest leading decimal is parsed,
// so "1/2" reads as 12 and "?" yields nothing.
func cardValue(card string) (float64, bool) {
	kept := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, card)

	m := leadingNumber.FindString(kept)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ComputeAverage returns the mean of the numeric cards currently selected,
// rounded to two decimals. ok is false when no card has a numeric value.
// The result ignores the reveal flag; callers decide when to show it.
func ComputeAverage(room *models.Room) (avg float64, ok bool) {
	if room == nil {
		return 0, false
	}
	var sum float64
	var n int
	for _, p := range room.Participants {
		if !p.HasCard() {
			continue
		}
		if v, ok := cardValue(p.Card); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return math.Round(sum/float64(n)*100) / 100, true
}

// FormatAverage renders an average the way it is displayed, e.g. "5.33".
func FormatAverage(avg float64) string {
	return strconv.FormatFloat(avg, 'f', 2, 64)
}

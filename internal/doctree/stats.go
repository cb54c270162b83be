package doctree

// Stats summarizes the font-size distribution of a document.
type Stats struct {
	Avg float64
	Max float64
}

// FontStats computes the mean and maximum font size. An empty input yields
// the baseline for both.
func FontStats(frags []Fragment) Stats {
	if len(frags) == 0 {
		return Stats{Avg: BaselineFontSize, Max: BaselineFontSize}
	}
	var sum float64
	maxSize := frags[0].Size()
	for _, f := range frags {
		s := f.Size()
		sum += s
		if s > maxSize {
			maxSize = s
		}
	}
	return Stats{Avg: sum / float64(len(frags)), Max: maxSize}
}

// Interpolate returns avg + ratio*(max-avg).
func (s Stats) Interpolate(ratio float64) float64 {
	return s.Avg + ratio*(s.Max-s.Avg)
}

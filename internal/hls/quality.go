package hls

import (
	"sort"

	"hls-offline/internal/domain"
)

// SelectQuality picks one variant according to preference. It never fails: the worst case
// is the first variant, and an empty list yields the zero variant.
//
//   - Best: highest known height.
//   - High: second-highest among heights >= 720, else the only one, else Best.
//   - Medium: highest height in [480, 720), else the median known height, else Best.
//   - Low: lowest known height.
//   - anything else: the Auto variant.
func SelectQuality(variants []domain.QualityVariant, preference domain.Quality) domain.QualityVariant {
	if len(variants) == 0 {
		return domain.QualityVariant{}
	}

	known := sortedByHeightDesc(variants)

	switch preference {
	case domain.QualityBest:
		return best(variants, known)
	case domain.QualityHigh:
		var high []domain.QualityVariant
		for _, v := range known {
			if *v.Height >= 720 {
				high = append(high, v)
			}
		}
		switch {
		case len(high) >= 2:
			return high[1]
		case len(high) == 1:
			return high[0]
		}
		return best(variants, known)
	case domain.QualityMedium:
		for _, v := range known {
			if h := *v.Height; h >= 480 && h < 720 {
				return v
			}
		}
		if len(known) > 0 {
			return known[len(known)/2]
		}
		return best(variants, known)
	case domain.QualityLow:
		if len(known) > 0 {
			return known[len(known)-1]
		}
		return variants[0]
	default:
		for _, v := range variants {
			if v.IsAuto() {
				return v
			}
		}
		return variants[0]
	}
}

func best(variants, known []domain.QualityVariant) domain.QualityVariant {
	if len(known) > 0 {
		return known[0]
	}
	return variants[0]
}

// sortedByHeightDesc returns the variants with a known height, tallest first.
// Equal heights keep their playlist order.
func sortedByHeightDesc(variants []domain.QualityVariant) []domain.QualityVariant {
	known := make([]domain.QualityVariant, 0, len(variants))
	for _, v := range variants {
		if v.Height != nil {
			known = append(known, v)
		}
	}
	sort.SliceStable(known, func(i, j int) bool {
		return *known[i].Height > *known[j].Height
	})
	return known
}

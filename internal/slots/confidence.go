package slots

import "agrivoice/internal/domain"

const plantGood = "良好"

// FilledCount counts slots carrying real data. Negative utterances stored as text do not count.
func FilledCount(s domain.Slots) int {
	n := 0
	for _, present := range []bool{
		s.MaxTemp != nil,
		s.MinTemp != nil,
		s.Humidity != nil,
		meaningful(s.WorkLog),
		meaningful(s.PlantStatus) && s.PlantStatus != plantGood,
		meaningful(s.Fertilizer),
		meaningful(s.PestStatus),
		meaningful(s.HarvestAmount),
		meaningful(s.MaterialCost),
	} {
		if present {
			n++
		}
	}
	return n
}

// Confidence buckets the filled count: none is low, one to four medium, five or more high.
// Adding data never lowers the bucket.
func Confidence(s domain.Slots) domain.Confidence {
	switch n := FilledCount(s); {
	case n >= 5:
		return domain.ConfidenceHigh
	case n >= 1:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

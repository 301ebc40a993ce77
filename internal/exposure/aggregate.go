package exposure

// Aggregate reduces one layer's samples to summary statistics over the valid
// (non-NoData) subset. With zero valid samples the statistics stay nil, which
// downstream consumers must treat as NoData, not as zero exposure.
func Aggregate(layer string, samples []LayerSample, failedCount int) Summary {
	s := Summary{Layer: layer, FailedCount: failedCount}

	var sum float64
	for _, sample := range samples {
		if !sample.Value.Valid {
			continue
		}
		v := sample.Value.Float64

		if s.SampleCount == 0 {
			min, max := v, v
			s.Min, s.Max = &min, &max
		} else {
			if v < *s.Min {
				*s.Min = v
			}
			if v > *s.Max {
				*s.Max = v
			}
		}
		sum += v
		s.SampleCount++
	}

	if s.SampleCount > 0 {
		mean := sum / float64(s.SampleCount)
		s.Mean = &mean
	}
	return s
}

package bench

import "math"

type IntStats struct {
	N    int
	Best int64
	Mean float64
	Std  float64
}

// CalcIntStats returns the minimum, mean and sample standard deviation.
func CalcIntStats(values []int64) IntStats {
	s := IntStats{N: len(values)}
	if s.N == 0 {
		return s
	}

	best := values[0]
	sum := 0.0
	for _, v := range values {
		if v < best {
			best = v
		}
		sum += float64(v)
	}
	s.Best = best
	s.Mean = sum / float64(s.N)
	s.Std = sampleStd(s.N, func(i int) float64 { return float64(values[i]) - s.Mean })
	return s
}

type FloatStats struct {
	N    int
	Best float64
	Mean float64
	Std  float64
}

func CalcFloatStats(values []float64) FloatStats {
	s := FloatStats{N: len(values)}
	if s.N == 0 {
		return s
	}

	best := values[0]
	sum := 0.0
	for _, v := range values {
		if v < best {
			best = v
		}
		sum += v
	}
	s.Best = best
	s.Mean = sum / float64(s.N)
	s.Std = sampleStd(s.N, func(i int) float64 { return values[i] - s.Mean })
	return s
}

func sampleStd(n int, dev func(i int) float64) float64 {
	if n < 2 {
		return 0
	}
	variance := 0.0
	for i := 0; i < n; i++ {
		d := dev(i)
		variance += d * d
	}
	return math.Sqrt(variance / float64(n-1))
}

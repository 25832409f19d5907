// Package stats provides the bootstrap inference engine used for test
// results, guardrail checks and LTV analysis.
//
// Everything here is CPU-bound and stateless. Callers run it from batch
// jobs, never on the request path; a caller-imposed timeout can discard
// results without side effects.
package stats

import (
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultNumSamples      = 5000
	DefaultConfidenceLevel = 0.95

	// parallelThreshold is the resamples*samples product above which
	// resampling fans out across CPUs.
	parallelThreshold = 5_000_000
)

// Options configures a bootstrap run. Zero values fall back to the
// defaults above; Seed fixes the resampling RNG for reproducible runs.
type Options struct {
	ConfidenceLevel float64
	NumSamples      int
	Seed            int64
}

func (o Options) withDefaults() Options {
	if o.ConfidenceLevel <= 0 || o.ConfidenceLevel >= 1 {
		o.ConfidenceLevel = DefaultConfidenceLevel
	}
	if o.NumSamples <= 0 {
		o.NumSamples = DefaultNumSamples
	}
	return o
}

// Result summarizes a bootstrap distribution. Lower and Upper are the
// empirical percentile bounds at the configured confidence level;
// StdError is the standard deviation of the resample statistics.
type Result struct {
	Estimate   float64
	StdError   float64
	Lower      float64
	Upper      float64
	SampleSize int
}

// ZeroWidth reports whether the interval collapsed to a point, which is
// how degenerate inputs surface rather than as errors.
func (r Result) ZeroWidth() bool {
	return r.Upper == r.Lower
}

// Significant reports whether the interval excludes zero. Only
// meaningful for difference results.
func (r Result) Significant() bool {
	return r.Lower > 0 || r.Upper < 0
}

// ConfidenceInterval bootstraps a confidence interval for the mean of
// samples. Empty input yields a zero result; a single sample yields a
// zero-width interval at that value. Dashboards degrade to "insufficient
// data" on zero-width results instead of erroring.
func ConfidenceInterval(samples []float64, opts Options) Result {
	opts = opts.withDefaults()

	if len(samples) == 0 {
		return Result{}
	}
	estimate := Mean(samples)
	if len(samples) == 1 {
		return Result{Estimate: estimate, Lower: estimate, Upper: estimate, SampleSize: 1}
	}

	stats := resample(opts, len(samples), func(rng *rand.Rand) float64 {
		sum := 0.0
		for i := 0; i < len(samples); i++ {
			sum += samples[rng.Intn(len(samples))]
		}
		return sum / float64(len(samples))
	})

	return summarize(estimate, stats, len(samples), opts.ConfidenceLevel)
}

// Difference bootstraps the difference of means (b - a). Positive
// estimates mean b outperforms a. Significance is declared when the
// returned interval excludes zero.
func Difference(a, b []float64, opts Options) Result {
	opts = opts.withDefaults()

	if len(a) == 0 || len(b) == 0 {
		return Result{SampleSize: len(a) + len(b)}
	}
	estimate := Mean(b) - Mean(a)
	if len(a) == 1 && len(b) == 1 {
		return Result{Estimate: estimate, Lower: estimate, Upper: estimate, SampleSize: 2}
	}

	stats := resample(opts, len(a)+len(b), func(rng *rand.Rand) float64 {
		sumA := 0.0
		for i := 0; i < len(a); i++ {
			sumA += a[rng.Intn(len(a))]
		}
		sumB := 0.0
		for i := 0; i < len(b); i++ {
			sumB += b[rng.Intn(len(b))]
		}
		return sumB/float64(len(b)) - sumA/float64(len(a))
	})

	return summarize(estimate, stats, len(a)+len(b), opts.ConfidenceLevel)
}

// resample computes one statistic per bootstrap resample. Each resample
// draws with replacement inside stat via the provided RNG. Work fans out
// across CPUs when it is large; chunk seeds derive from opts.Seed so a
// seeded run is reproducible at a given worker count.
func resample(opts Options, sampleSize int, stat func(*rand.Rand) float64) []float64 {
	out := make([]float64, opts.NumSamples)

	workers := runtime.NumCPU()
	if opts.NumSamples*sampleSize < parallelThreshold || workers < 2 {
		rng := rand.New(rand.NewSource(opts.Seed + 1))
		for i := range out {
			out[i] = stat(rng)
		}
		return out
	}

	var g errgroup.Group
	chunk := (opts.NumSamples + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > opts.NumSamples {
			end = opts.NumSamples
		}
		if start >= end {
			break
		}
		seed := opts.Seed + int64(w)*7919 + 1
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			for i := start; i < end; i++ {
				out[i] = stat(rng)
			}
			return nil
		})
	}
	g.Wait() // workers never return errors
	return out
}

func summarize(estimate float64, stats []float64, sampleSize int, confidence float64) Result {
	sort.Float64s(stats)
	alpha := (1 - confidence) / 2

	return Result{
		Estimate:   estimate,
		StdError:   StdDev(stats),
		Lower:      percentile(stats, alpha),
		Upper:      percentile(stats, 1-alpha),
		SampleSize: sampleSize,
	}
}

// percentile reads the empirical q-quantile from a sorted slice using
// linear interpolation between adjacent order statistics.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Mean of samples; zero for empty input.
func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// StdDev is the population standard deviation; zero for fewer than two
// samples.
func StdDev(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	m := Mean(samples)
	sum := 0.0
	for _, s := range samples {
		d := s - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Package timeconv converts between real time and sample counts.
package timeconv

import "time"

// MsToSamples converts a duration in milliseconds to a sample count at the
// given sample rate. Rounding is half-up so that repeated conversions do not
// accumulate a truncation bias.
func MsToSamples(ms, rate uint32) uint32 {
	return uint32((uint64(ms)*uint64(rate) + 500) / 1000)
}

// SamplesToMs converts a sample count back to milliseconds at the given
// sample rate, rounding half-up.
func SamplesToMs(samples, rate uint32) uint32 {
	if rate == 0 {
		return 0
	}
	return uint32((uint64(samples)*1000 + uint64(rate)/2) / uint64(rate))
}

// SamplesToDuration converts a sample count to a time.Duration.
func SamplesToDuration(samples, rate uint32) time.Duration {
	if rate == 0 {
		return 0
	}
	return time.Duration(uint64(samples) * uint64(time.Second) / uint64(rate))
}

// DurationToSamples converts a time.Duration to a sample count at the given
// sample rate. Negative durations yield zero.
func DurationToSamples(d time.Duration, rate uint32) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32((uint64(d)*uint64(rate) + uint64(time.Second)/2) / uint64(time.Second))
}

// SecondsToSamples converts seconds to a sample count, truncating toward
// zero. Negative values yield zero.
func SecondsToSamples(seconds float64, rate uint32) uint32 {
	if seconds <= 0 {
		return 0
	}
	return uint32(seconds * float64(rate))
}

// SamplesToSeconds converts a sample count to seconds.
func SamplesToSeconds(samples, rate uint32) float64 {
	if rate == 0 {
		return 0
	}
	return float64(samples) / float64(rate)
}

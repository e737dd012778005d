package util

import (
	"math/bits"
	"runtime"
)

// LaneCount returns the number of execution lanes for a pool sized at
// multiplier × GOMAXPROCS, rounded up to the next power of two and clamped to
// [1..1024]. I/O-bound pools typically use 2, CPU-bound pools 1.
func LaneCount(multiplier int) int {
	if multiplier < 1 {
		multiplier = 1
	}
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	n := int(NextPow2(uint64(p * multiplier)))
	if n > 1024 {
		n = 1024
	}
	return n
}

// ReasonableShardCount picks a default cache shard count: nextPow2(2*GOMAXPROCS),
// clamped to [1..256].
func ReasonableShardCount() int {
	n := LaneCount(2)
	if n > 256 {
		n = 256
	}
	return n
}

// Index maps a 64-bit hash to a slot in a power-of-two sized table.
// Falls back to modulo when n is not a power of two.
func Index(hash uint64, n int) int {
	if n <= 1 {
		return 0
	}
	if IsPowerOfTwo(uint64(n)) {
		return int(hash & uint64(n-1))
	}
	return int(hash % uint64(n))
}

// IsPowerOfTwo reports whether x is a power of two (> 0).
func IsPowerOfTwo(x uint64) bool {
	return x != 0 && x&(x-1) == 0
}

// NextPow2 returns the smallest power of two >= x; 0 and 1 give 1 and values
// above 1<<63 clamp to 1<<63.
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	n := uint64(1) << bits.Len64(x-1)
	if n == 0 {
		return 1 << 63
	}
	return n
}

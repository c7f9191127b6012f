// Package parallel runs index-range loops on a bounded set of goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// minChunk is the smallest range handed to a worker; tiny loops run inline.
const minChunk = 256

// Workers returns n when positive and the number of CPUs otherwise.
func Workers(n int) int {
	if n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// For calls fn(lo, hi) over disjoint ranges covering [0, n). Each range is
// processed by exactly one goroutine, so fn may write to index-addressed
// output without locking. For returns when every range has finished.
func For(n, workers int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	workers = Workers(workers)
	if workers == 1 || n <= minChunk {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	if chunk < minChunk {
		chunk = minChunk
	}

	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

// Sum evaluates fn over [0, n) in parallel and adds the partial results.
// Partial sums are combined in range order so the result does not depend on
// goroutine scheduling.
func Sum(n, workers int, fn func(lo, hi int) float64) float64 {
	if n <= 0 {
		return 0
	}
	workers = Workers(workers)
	if workers == 1 || n <= minChunk {
		return fn(0, n)
	}

	chunk := (n + workers - 1) / workers
	if chunk < minChunk {
		chunk = minChunk
	}
	parts := make([]float64, (n+chunk-1)/chunk)

	var wg sync.WaitGroup
	for i := range parts {
		lo := i * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(i, lo, hi int) {
			defer wg.Done()
			parts[i] = fn(lo, hi)
		}(i, lo, hi)
	}
	wg.Wait()

	total := 0.0
	for _, p := range parts {
		total += p
	}
	return total
}

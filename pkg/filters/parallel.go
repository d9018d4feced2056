package filters

import (
	"runtime"
	"sync"
)

// forEachSlice calls fn for every z in [0, depth) using at most workers
// goroutines. fn must only write voxels belonging to its own slice.
func forEachSlice(depth, workers int, fn func(z int)) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > depth {
		workers = depth
	}
	if workers <= 1 {
		for z := 0; z < depth; z++ {
			fn(z)
		}
		return
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for z := range jobs {
				fn(z)
			}
		}()
	}

	for z := 0; z < depth; z++ {
		jobs <- z
	}
	close(jobs)
	wg.Wait()
}

package volume

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// TileSize is the number of voxels handled by one reduction task. A 128³
// volume splits into 32 tiles.
const TileSize = 1 << 16

// Reduce splits [0, n) into fixed-size tiles, evaluates fn on every tile in
// parallel and returns the sum of the partial results. Partials are combined
// in tile order, so the result does not depend on scheduling. Reduce returns
// only once every tile is done; nothing escapes the call.
func Reduce(n int, fn func(lo, hi int) float64) float64 {
	partials, _ := ReduceTiles(n, func(lo, hi int) (float64, error) {
		return fn(lo, hi), nil
	})

	total := 0.0
	for _, p := range partials {
		total += p
	}
	return total
}

// ReduceTiles is Reduce without the final sum, for partial results that need
// their own combination rule. The first error returned by any tile is
// returned once all tiles have finished.
func ReduceTiles(n int, fn func(lo, hi int) (float64, error)) ([]float64, error) {
	return reduceTiles(n, TileSize, fn)
}

func reduceTiles(n, tileSize int, fn func(lo, hi int) (float64, error)) ([]float64, error) {
	nTiles := (n + tileSize - 1) / tileSize
	partials := make([]float64, nTiles)

	if nTiles <= 1 {
		if n == 0 {
			return partials, nil
		}
		p, err := fn(0, n)
		partials[0] = p
		return partials, err
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := 0; t < nTiles; t++ {
		t := t
		g.Go(func() error {
			lo := t * tileSize
			hi := lo + tileSize
			if hi > n {
				hi = n
			}
			p, err := fn(lo, hi)
			partials[t] = p
			return err
		})
	}

	return partials, g.Wait()
}

// ParallelFor runs fn over tiles of [0, n) for voxelwise work that writes
// into disjoint ranges of an output buffer.
func ParallelFor(n int, fn func(lo, hi int)) {
	parallelFor(n, TileSize, fn)
}

func parallelFor(n, tileSize int, fn func(lo, hi int)) {
	reduceTiles(n, tileSize, func(lo, hi int) (float64, error) {
		fn(lo, hi)
		return 0, nil
	})
}

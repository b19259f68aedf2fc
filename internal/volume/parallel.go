package volume

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/voxel"
)

// BlockFunc обрабатывает один блок при параллельном обходе
type BlockFunc func(ctx context.Context, bc vec.Vec3, b *voxel.Block) error

// ParallelBlocks обходит блоки параллельно, разбивая упорядоченный список
// координат на непрерывные диапазоны. Только чтение: блоки опубликованы и
// неизменяемы, но объем нельзя менять, пока обход не завершится.
// workers <= 0 означает GOMAXPROCS.
func (v *Volume) ParallelBlocks(ctx context.Context, workers int, fn BlockFunc) error {
	order, blocks := v.snapshot()
	if len(order) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, len(order))
	per := (len(order) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(order); start += per {
		end := min(start+per, len(order))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := fn(gctx, order[i], blocks[i]); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

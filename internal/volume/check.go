package volume

import (
	"fmt"

	"github.com/annel0/voxedit/internal/fingerprint"
	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/voxel"
)

// CheckConsistency проверяет внутренние инварианты объема:
// нет пустых и освобожденных блоков, счетчики вокселей совпадают
// с содержимым, кэш порядка совпадает с таблицей, кэшированные
// ключ и границы совпадают с пересчитанными.
// Предназначена для тестов.
func CheckConsistency(v *Volume) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.data == nil {
		return nil
	}
	if v.data.refs.Load() < 1 {
		return fmt.Errorf("таблица блоков без ссылок")
	}

	var box vec.Box
	var u fingerprint.Unordered
	for bc, b := range v.data.blocks {
		if b == nil {
			return fmt.Errorf("блок %v: nil", bc)
		}
		if b.Freed() || b.Refs() < 1 {
			return fmt.Errorf("блок %v: освобожден (refs=%d)", bc, b.Refs())
		}
		n := 0
		for i := 0; i < voxel.BlockCells; i++ {
			if !b.At(i).IsEmpty() {
				n++
				box = box.Extend(bc.BlockOrigin().Add(voxel.LocalOf(i)))
			}
		}
		if n == 0 {
			return fmt.Errorf("блок %v: пустой блок в таблице", bc)
		}
		if n != b.Count() {
			return fmt.Errorf("блок %v: счетчик %d, фактически %d", bc, b.Count(), n)
		}
		u.Add(fingerprint.Mix(coordKey(bc), b.Hash()))
	}

	v.data.orderMu.Lock()
	order := v.data.order
	v.data.orderMu.Unlock()
	if order != nil {
		if len(order) != len(v.data.blocks) {
			return fmt.Errorf("кэш порядка: %d записей, в таблице %d", len(order), len(v.data.blocks))
		}
		for i, bc := range order {
			if _, ok := v.data.blocks[bc]; !ok {
				return fmt.Errorf("кэш порядка: лишняя координата %v", bc)
			}
			if i > 0 && !order[i-1].Less(bc) {
				return fmt.Errorf("кэш порядка: нарушен порядок или дубликат в %v", bc)
			}
		}
	}

	if v.boxOK && v.box != box {
		return fmt.Errorf("границы: кэш %v, фактически %v", v.box, box)
	}
	if v.keyOK && v.key != u.Sum() {
		return fmt.Errorf("ключ: кэш %x, фактически %x", v.key, u.Sum())
	}
	return nil
}

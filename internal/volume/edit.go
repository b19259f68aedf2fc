package volume

import (
	"slices"

	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/voxel"
)

// blockEdit изменение одного блока в составе пакетной операции.
// Проверка «разделен ли блок» выполняется один раз на блок, а не на воксель.
type blockEdit struct {
	coord vec.Vec3

	// creates: может ли изменение создать блок там, где его нет
	creates bool
	// share: блок, который можно установить без копирования, если
	// в назначении блока нет
	share *voxel.Block
	// replace: блок, который целиком заменяет текущий
	replace *voxel.Block
	// probe сообщает, изменит ли правка существующий блок (необязательно)
	probe func(cur *voxel.Block) bool
	// apply изменяет блок, принадлежащий только этому объему
	apply func(b *voxel.Block) bool
}

// staged подготовленная правка
type staged struct {
	edit     *blockEdit
	old      *voxel.Block
	target   *voxel.Block // блок, в который пишем (old, клон или новый)
	owned    bool         // target выделен этой операцией
	shared   bool         // target взят из share/replace с дополнительной ссылкой
	oldBound vec.Box
}

// applyEdits применяет пакет правок атомарно по отношению к ошибкам выделения:
// сначала выделяются все клоны и новые блоки, и только если все выделения
// успешны, блоки изменяются и устанавливаются в отображение.
func (v *Volume) applyEdits(edits []blockEdit) error {
	if len(edits) == 0 {
		return nil
	}
	slices.SortFunc(edits, func(a, b blockEdit) int { return a.coord.Compare(b.coord) })

	stripes := v.stripesFor(edits)
	for _, i := range stripes {
		v.stripes[i].Lock()
	}
	defer func() {
		for j := len(stripes) - 1; j >= 0; j-- {
			v.stripes[stripes[j]].Unlock()
		}
	}()

	// Фаза 1: собственная таблица и текущие блоки
	v.mu.Lock()
	if v.data == nil {
		v.mu.Unlock()
		return ErrReleased
	}
	v.ownTable()
	current := make([]*voxel.Block, len(edits))
	for i := range edits {
		current[i] = v.data.blocks[edits[i].coord]
	}
	v.mu.Unlock()

	// Фаза 2: выделение (может завершиться ошибкой, данные не тронуты)
	plan := make([]staged, 0, len(edits))
	rollback := func() {
		for _, s := range plan {
			if s.owned || s.shared {
				s.target.Release()
			}
		}
	}
	for i := range edits {
		e := &edits[i]
		cur := current[i]
		s := staged{edit: e, old: cur}

		switch {
		case e.replace != nil:
			if cur == e.replace {
				continue
			}
			if cur != nil {
				s.oldBound = cur.Bounds()
			}
			s.target = e.replace.Retain()
			s.shared = true
		case cur == nil:
			if e.share != nil {
				s.target = e.share.Retain()
				s.shared = true
				break
			}
			if !e.creates {
				continue
			}
			b, err := v.pool.New()
			if err != nil {
				rollback()
				return err
			}
			s.target, s.owned = b, true
		default:
			if e.probe != nil && !e.probe(cur) {
				continue
			}
			s.oldBound = cur.Bounds()
			if cur.Shared() {
				b, err := v.pool.Clone(cur)
				if err != nil {
					rollback()
					return err
				}
				s.target, s.owned = b, true
			} else {
				s.target = cur
			}
		}
		plan = append(plan, s)
	}

	// Фаза 3: изменение (не может завершиться ошибкой)
	changedAny := false
	kept := plan[:0]
	for _, s := range plan {
		if s.shared {
			changedAny = true
			kept = append(kept, s)
			continue
		}
		if s.edit.apply(s.target) {
			changedAny = true
			kept = append(kept, s)
			continue
		}
		if s.owned {
			s.target.Release()
		}
	}
	if !changedAny {
		return nil
	}

	// Фаза 4: установка в отображение
	var released []*voxel.Block
	v.mu.Lock()
	structural := false
	boxStale := false
	for _, s := range kept {
		bc := s.edit.coord
		if s.target.IsEmpty() {
			if s.old != nil {
				delete(v.data.blocks, bc)
				structural = true
				boxStale = true
				released = append(released, s.old)
			}
			if s.target != s.old {
				released = append(released, s.target)
			}
			continue
		}
		if s.target != s.old {
			v.data.blocks[bc] = s.target
			if s.old == nil {
				structural = true
			} else {
				released = append(released, s.old)
			}
		}
		if v.boxOK && !boxStale {
			nb := s.target.Bounds()
			if s.old != nil && !nb.ContainsBox(s.oldBound) {
				boxStale = true
			} else {
				v.box = v.box.Union(nb.Translate(bc.BlockOrigin()))
			}
		}
	}
	if structural {
		v.data.orderMu.Lock()
		v.data.order = nil
		v.data.orderMu.Unlock()
	}
	if boxStale {
		v.boxOK = false
	}
	v.keyOK = false
	onChange := v.onChange
	v.mu.Unlock()

	for _, b := range released {
		b.Release()
	}
	if onChange != nil {
		onChange()
	}
	return nil
}

// ownTable гарантирует, что таблица блоков принадлежит только этому объему.
// Вызывается под v.mu. Копируется только таблица указателей, блоки
// получают дополнительную ссылку и становятся разделяемыми.
func (v *Volume) ownTable() {
	if v.data.refs.Load() == 1 {
		return
	}
	old := v.data
	fresh := newBlockMap(len(old.blocks))
	for bc, b := range old.blocks {
		fresh.blocks[bc] = b.Retain()
	}
	v.data = fresh
	old.release()
}

func (v *Volume) stripesFor(edits []blockEdit) []int {
	seen := make(map[int]struct{}, len(edits))
	out := make([]int, 0, min(len(edits), stripeCount))
	for i := range edits {
		s := v.stripe(edits[i].coord)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

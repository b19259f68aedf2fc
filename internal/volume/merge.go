package volume

import (
	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/voxel"
)

// Merge вливает src в dst после применения преобразования t.
//
//   - ModeReplace: содержимое dst становится равным преобразованному src;
//   - ModeAdd: непустой воксель src побеждает;
//   - ModeSub: непустой воксель src стирает воксель dst;
//   - ModePaint: воксель src перекрашивает только непустой воксель dst.
//
// Это базовая операция композиции слоев и инструментов рисования.
// При ошибке dst не изменяется.
func Merge(dst, src *Volume, t vec.Mat4, mode voxel.Mode) error {
	s := src
	if dst == src || !t.IsIdentity() {
		var err error
		if s, err = Transform(src, t); err != nil {
			return err
		}
		defer s.Release()
	}

	if mode == voxel.ModeReplace {
		return dst.Assign(s)
	}

	var edits []blockEdit
	for bc, sb := range s.IterBlocks() {
		e := blockEdit{
			coord:   bc,
			creates: mode.CanCreate(),
			apply: func(db *voxel.Block) bool {
				return mergeBlock(db, sb, mode)
			},
		}
		if mode == voxel.ModeAdd {
			e.share = sb
		}
		edits = append(edits, e)
	}
	return dst.applyEdits(edits)
}

// mergeBlock сливает клетки блока src в блок dst
func mergeBlock(dst, src *voxel.Block, mode voxel.Mode) bool {
	changed := false
	for i := 0; i < voxel.BlockCells; i++ {
		sc := src.At(i)
		if sc.IsEmpty() && mode != voxel.ModeReplace {
			continue
		}
		if dst.Set(i, mode.Combine(dst.At(i), sc)) {
			changed = true
		}
	}
	return changed
}

// Transform возвращает новый объем: образ src при преобразовании t.
// Перенос на целое число блоков разделяет блоки без копирования;
// в остальных случаях центр каждого вокселя отображается в воксель назначения.
func Transform(src *Volume, t vec.Mat4) (*Volume, error) {
	if t.IsIdentity() {
		return src.Clone(), nil
	}
	out := New(src.pool)

	if d, ok := t.IntTranslation(); ok && d.X%16 == 0 && d.Y%16 == 0 && d.Z%16 == 0 {
		shift := vec.Vec3{X: d.X / 16, Y: d.Y / 16, Z: d.Z / 16}
		var edits []blockEdit
		for bc, b := range src.IterBlocks() {
			nbc := bc.Add(shift)
			if err := CheckBox(vec.BlockBox(nbc)); err != nil {
				out.Release()
				return nil, err
			}
			edits = append(edits, blockEdit{coord: nbc, share: b})
		}
		if err := out.applyEdits(edits); err != nil {
			out.Release()
			return nil, err
		}
		return out, nil
	}

	type cell struct {
		i int
		c voxel.Color
	}
	writes := make(map[vec.Vec3][]cell)
	for p, c := range src.IterVoxels() {
		q := t.Apply(p.ToFloat()).Floor()
		if err := CheckPos(q); err != nil {
			out.Release()
			return nil, err
		}
		l := q.LocalInBlock()
		bc := q.ToBlockCoords()
		writes[bc] = append(writes[bc], cell{i: voxel.Index(l.X, l.Y, l.Z), c: c})
	}
	edits := make([]blockEdit, 0, len(writes))
	for bc, cells := range writes {
		edits = append(edits, blockEdit{
			coord:   bc,
			creates: true,
			apply: func(b *voxel.Block) bool {
				changed := false
				for _, w := range cells {
					if b.Set(w.i, w.c) {
						changed = true
					}
				}
				return changed
			},
		})
	}
	if err := out.applyEdits(edits); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// Tint возвращает новый объем с цветами src, умноженными на оттенок
func Tint(src *Volume, tint voxel.Color) (*Volume, error) {
	if tint == voxel.White {
		return src.Clone(), nil
	}
	out := New(src.pool)
	var edits []blockEdit
	for bc, sb := range src.IterBlocks() {
		edits = append(edits, blockEdit{
			coord:   bc,
			creates: true,
			apply: func(b *voxel.Block) bool {
				changed := false
				for i := 0; i < voxel.BlockCells; i++ {
					if b.Set(i, sb.At(i).Tint(tint)) {
						changed = true
					}
				}
				return changed
			},
		})
	}
	if err := out.applyEdits(edits); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

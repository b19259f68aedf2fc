package volume

import (
	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/voxel"
)

// FillShape записывает цвет во все воксели формы. Пустой цвет стирает.
// Операция выполняется пакетом правок по блокам: при ошибке выделения
// объем остается в исходном состоянии.
func (v *Volume) FillShape(shape Shape, c voxel.Color) error {
	bounds := shape.Bounds()
	if bounds.Empty() {
		return nil
	}
	if err := CheckBox(bounds); err != nil {
		return err
	}
	c = c.Normalize()

	br := bounds.BlockRange()
	edits := make([]blockEdit, 0)
	for x := br.Min.X; x < br.Max.X; x++ {
		for y := br.Min.Y; y < br.Max.Y; y++ {
			for z := br.Min.Z; z < br.Max.Z; z++ {
				bc := vec.Vec3{X: x, Y: y, Z: z}
				part := bounds.Intersect(vec.BlockBox(bc))
				origin := bc.BlockOrigin()
				edits = append(edits, blockEdit{
					coord:   bc,
					creates: !c.IsEmpty(),
					apply: func(b *voxel.Block) bool {
						changed := false
						forEachCell(part, func(p vec.Vec3) {
							if !shape.Contains(p) {
								return
							}
							l := p.Sub(origin)
							if b.Set(voxel.Index(l.X, l.Y, l.Z), c) {
								changed = true
							}
						})
						return changed
					},
				})
			}
		}
	}
	return v.applyEdits(edits)
}

// FillBox заполняет Box цветом
func (v *Volume) FillBox(box vec.Box, c voxel.Color) error {
	return v.FillShape(Cube{Box: box}, c)
}

// FromShape создает маску-объем формы заданного цвета
func FromShape(pool *voxel.Pool, shape Shape, c voxel.Color) (*Volume, error) {
	m := New(pool)
	if err := m.FillShape(shape, c); err != nil {
		m.Release()
		return nil, err
	}
	return m, nil
}

// CopyRegion возвращает новый объем с вокселями v внутри region.
// Блоки, целиком попадающие в region, разделяются без копирования.
func (v *Volume) CopyRegion(region vec.Box) (*Volume, error) {
	out := New(v.pool)
	if region.Empty() {
		return out, nil
	}
	var edits []blockEdit
	for bc, b := range v.IterBlocks() {
		bb := vec.BlockBox(bc)
		part := region.Intersect(bb)
		if part.Empty() {
			continue
		}
		if region.ContainsBox(bb) {
			edits = append(edits, blockEdit{coord: bc, share: b})
			continue
		}
		src := b
		origin := bc.BlockOrigin()
		edits = append(edits, blockEdit{
			coord:   bc,
			creates: true,
			apply: func(dst *voxel.Block) bool {
				changed := false
				forEachCell(part, func(p vec.Vec3) {
					l := p.Sub(origin)
					i := voxel.Index(l.X, l.Y, l.Z)
					if dst.Set(i, src.At(i)) {
						changed = true
					}
				})
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

// Paste вливает src в v со сдвигом offset в заданном режиме
func (v *Volume) Paste(src *Volume, offset vec.Vec3, mode voxel.Mode) error {
	return Merge(v, src, vec.Translate(offset), mode)
}

func forEachCell(b vec.Box, fn func(p vec.Vec3)) {
	for z := b.Min.Z; z < b.Max.Z; z++ {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				fn(vec.Vec3{X: x, Y: y, Z: z})
			}
		}
	}
}

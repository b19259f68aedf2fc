package scene

import (
	"sync"

	"github.com/annel0/voxedit/internal/fingerprint"
	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/volume"
	"github.com/annel0/voxedit/internal/voxel"
)

// LayerID стабильный идентификатор слоя внутри сцены
type LayerID int

// LayerKind определяет источник вокселей слоя.
//
// KindVolume – собственный объем;
// KindClone – объем другого слоя (по идентификатору) со своим преобразованием;
// KindImage – плоское изображение в пространстве;
// KindProcedural – процедурно сгенерированная форма.
type LayerKind uint8

const (
	KindVolume LayerKind = iota
	KindClone
	KindImage
	KindProcedural
)

var kindNames = [...]string{
	KindVolume:     "volume",
	KindClone:      "clone",
	KindImage:      "image",
	KindProcedural: "procedural",
}

// String возвращает имя вида слоя
func (k LayerKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Producer внешний источник объема для слоев изображения и процедурных слоев.
// Сцена использует только результат и его ключ, но не внутреннее состояние.
type Producer interface {
	// Key меняется тогда и только тогда, когда меняется результат
	Key() uint64
	// Volume возвращает результат; false: результат еще не готов
	// и слой считается пустым
	Volume() (*volume.Volume, bool)
}

// Layer именованная, перемещаемая единица содержимого сцены.
// Поля закрыты: каждое изменение проходит через сеттер и инвалидирует ключ.
type Layer struct {
	id      LayerID
	kind    LayerKind
	name    string
	visible bool
	tint    voxel.Color
	mat     vec.Mat4
	box     vec.Box
	mode    voxel.Mode

	vol      *volume.Volume // KindVolume
	baseID   LayerID        // KindClone, слабая ссылка
	producer Producer       // KindImage, KindProcedural

	scene *Scene

	mu    sync.Mutex
	key   uint64 // ключ заголовка и собственного объема
	keyOK bool
}

func newLayer(s *Scene, id LayerID, name string) *Layer {
	return &Layer{
		id:      id,
		name:    name,
		visible: true,
		tint:    voxel.White,
		mat:     vec.Identity,
		mode:    voxel.ModeAdd,
		scene:   s,
	}
}

// ID возвращает идентификатор слоя
func (l *Layer) ID() LayerID { return l.id }

// Kind возвращает вид слоя
func (l *Layer) Kind() LayerKind { return l.kind }

// Name возвращает имя слоя
func (l *Layer) Name() string { return l.name }

// Visible возвращает видимость слоя
func (l *Layer) Visible() bool { return l.visible }

// Tint возвращает оттенок слоя
func (l *Layer) Tint() voxel.Color { return l.tint }

// Transform возвращает матрицу размещения слоя
func (l *Layer) Transform() vec.Mat4 { return l.mat }

// Box возвращает ограничивающий Box слоя (для процедурных слоев и изображений)
func (l *Layer) Box() vec.Box { return l.box }

// Mode возвращает режим, в котором слой вливается в композицию
func (l *Layer) Mode() voxel.Mode { return l.mode }

// BaseID возвращает идентификатор исходного слоя для клона
func (l *Layer) BaseID() LayerID { return l.baseID }

// Producer возвращает внешний источник объема
func (l *Layer) Producer() Producer { return l.producer }

// Volume возвращает собственный объем слоя (nil для остальных видов)
func (l *Layer) Volume() *volume.Volume { return l.vol }

// SetName меняет имя слоя
func (l *Layer) SetName(name string) {
	if l.name == name {
		return
	}
	l.name = name
	l.invalidate()
}

// SetVisible меняет видимость слоя
func (l *Layer) SetVisible(visible bool) {
	if l.visible == visible {
		return
	}
	l.visible = visible
	l.invalidate()
}

// SetTint меняет оттенок слоя
func (l *Layer) SetTint(c voxel.Color) {
	if l.tint == c {
		return
	}
	l.tint = c
	l.invalidate()
}

// SetTransform меняет матрицу размещения
func (l *Layer) SetTransform(m vec.Mat4) {
	if l.mat == m {
		return
	}
	l.mat = m
	l.invalidate()
}

// SetBox меняет ограничивающий Box слоя
func (l *Layer) SetBox(b vec.Box) {
	if l.box == b {
		return
	}
	l.box = b
	l.invalidate()
}

// SetMode меняет режим слияния слоя в композиции
func (l *Layer) SetMode(m voxel.Mode) {
	if l.mode == m {
		return
	}
	l.mode = m
	l.invalidate()
}

// SetVolume передает слою владение объемом. Прежний объем освобождается.
// Допустимо только для слоев KindVolume.
func (l *Layer) SetVolume(v *volume.Volume) error {
	if l.kind != KindVolume {
		return ErrNotEditable
	}
	if l.vol == v {
		return nil
	}
	old := l.vol
	l.attach(v)
	if old != nil {
		old.SetOnChange(nil)
		old.Release()
	}
	l.invalidate()
	return nil
}

func (l *Layer) attach(v *volume.Volume) {
	l.vol = v
	if v != nil {
		v.SetOnChange(l.invalidate)
	}
}

// CanEdit возвращает true, если инструменты могут менять объем слоя
func (l *Layer) CanEdit() bool {
	return l.kind == KindVolume
}

// invalidate вызывается при изменении заголовка или собственного объема
// и поднимает инвалидацию до сцены.
func (l *Layer) invalidate() {
	l.mu.Lock()
	l.keyOK = false
	l.mu.Unlock()

	if l.scene != nil {
		l.scene.invalidate()
	}
}

// ownKey ключ заголовка слоя и собственного объема (кэшируется)
func (l *Layer) ownKey() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.keyOK {
		return l.key
	}
	h := fingerprint.New("layer").
		WriteInt(int(l.kind)).
		WriteString(l.name).
		WriteBool(l.visible).
		WriteBytes(l.tint[:]).
		WriteInt(int(l.mode))
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			h.WriteFloat(l.mat[i][j])
		}
	}
	h.WriteInt(l.box.Min.X).WriteInt(l.box.Min.Y).WriteInt(l.box.Min.Z)
	h.WriteInt(l.box.Max.X).WriteInt(l.box.Max.Y).WriteInt(l.box.Max.Z)

	switch l.kind {
	case KindVolume:
		if l.vol != nil {
			h.WriteUint64(l.vol.Key())
		}
	case KindClone:
		h.WriteInt(int(l.baseID))
	}
	l.key = h.Sum()
	l.keyOK = true
	return l.key
}

// Key возвращает ключ слоя: заголовок, собственный объем и, для слоев
// без собственного объема, ключ источника, от которого слой зависит.
func (l *Layer) Key() uint64 {
	own := l.ownKey()
	switch l.kind {
	case KindClone:
		return fingerprint.Mix(own, l.upstreamKey())
	case KindImage, KindProcedural:
		return fingerprint.Mix(own, l.producerKey())
	}
	return own
}

// danglingKey ключ отсутствующего источника клона
const danglingKey = 0xdead_c10e

func (l *Layer) upstreamKey() uint64 {
	if l.scene == nil {
		return danglingKey
	}
	base := l.scene.Layer(l.baseID)
	if base == nil || base.kind != KindVolume || base.vol == nil {
		return danglingKey
	}
	return base.vol.Key()
}

func (l *Layer) producerKey() uint64 {
	if l.producer == nil {
		return 0
	}
	return l.producer.Key()
}

// copyTo создает копию слоя для сцены dst; объем разделяется (copy-on-write)
func (l *Layer) copyTo(dst *Scene) *Layer {
	c := &Layer{
		id:       l.id,
		kind:     l.kind,
		name:     l.name,
		visible:  l.visible,
		tint:     l.tint,
		mat:      l.mat,
		box:      l.box,
		mode:     l.mode,
		baseID:   l.baseID,
		producer: l.producer,
		scene:    dst,
	}
	l.mu.Lock()
	c.key, c.keyOK = l.key, l.keyOK
	l.mu.Unlock()
	if l.vol != nil {
		c.attach(l.vol.Clone())
	}
	return c
}

func (l *Layer) release() {
	if l.vol != nil {
		l.vol.SetOnChange(nil)
		l.vol.Release()
		l.vol = nil
	}
	l.scene = nil
}

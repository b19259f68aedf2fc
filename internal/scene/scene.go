// Package scene описывает документ редактора: упорядоченные слои,
// камеры и ограничивающий Box. Слои и камеры адресуются стабильными
// небольшими идентификаторами внутри сцены, без обратных указателей.
package scene

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/annel0/voxedit/internal/fingerprint"
	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/volume"
	"github.com/annel0/voxedit/internal/voxel"
)

var (
	ErrLayerNotFound    = errors.New("слой не найден")
	ErrCameraNotFound   = errors.New("камера не найдена")
	ErrNotEditable      = errors.New("слой нельзя редактировать")
	ErrDanglingClone    = errors.New("исходный слой клона не найден")
	ErrInvalidCloneBase = errors.New("исходный слой клона не содержит собственного объема")
	ErrIDTaken          = errors.New("идентификатор уже используется")
)

// DefaultBox ограничивающий Box новой сцены
var DefaultBox = vec.Box{Min: vec.Vec3{X: -32, Y: -32, Z: -32}, Max: vec.Vec3{X: 32, Y: 32, Z: 32}}

// Scene документ редактора.
//
// Сцена изменяется одним редактирующим циклом; потокобезопасен только
// кэш ключа, потому что инвалидация может прийти из записей в объем.
type Scene struct {
	pool *voxel.Pool

	layers       []*Layer
	cameras      []*Camera
	activeLayer  LayerID
	activeCamera CameraID
	nextLayer    LayerID
	nextCamera   CameraID
	box          vec.Box

	mu           sync.Mutex
	layersKey    uint64
	layersKeyOK  bool
	producerKeys []uint64
}

// New создает сцену с одним пустым слоем и одной камерой
func New(pool *voxel.Pool) *Scene {
	s := NewEmpty(pool)
	s.box = DefaultBox
	s.AddLayer("background")
	s.AddCamera("default")
	return s
}

// NewEmpty создает сцену без слоев и камер
func NewEmpty(pool *voxel.Pool) *Scene {
	if pool == nil {
		pool = voxel.DefaultPool
	}
	return &Scene{pool: pool, nextLayer: 1, nextCamera: 1}
}

// Pool возвращает пул блоков сцены
func (s *Scene) Pool() *voxel.Pool { return s.pool }

// Layers возвращает слои в порядке наложения (снизу вверх)
func (s *Scene) Layers() []*Layer {
	return slices.Clone(s.layers)
}

// Layer возвращает слой по идентификатору или nil
func (s *Scene) Layer(id LayerID) *Layer {
	if i := s.layerIndex(id); i >= 0 {
		return s.layers[i]
	}
	return nil
}

func (s *Scene) layerIndex(id LayerID) int {
	for i, l := range s.layers {
		if l.id == id {
			return i
		}
	}
	return -1
}

// ActiveLayer возвращает активный слой или nil, если слоев нет
func (s *Scene) ActiveLayer() *Layer {
	return s.Layer(s.activeLayer)
}

// SetActiveLayer делает слой активным
func (s *Scene) SetActiveLayer(id LayerID) error {
	if s.Layer(id) == nil {
		return fmt.Errorf("%w: %d", ErrLayerNotFound, id)
	}
	if s.activeLayer != id {
		s.activeLayer = id
		s.invalidate()
	}
	return nil
}

func (s *Scene) appendLayer(l *Layer) *Layer {
	s.layers = append(s.layers, l)
	s.activeLayer = l.id
	s.invalidate()
	return l
}

// AddLayer добавляет пустой слой с собственным объемом поверх остальных
// и делает его активным
func (s *Scene) AddLayer(name string) *Layer {
	l := newLayer(s, s.nextLayer, name)
	s.nextLayer++
	l.attach(volume.New(s.pool))
	return s.appendLayer(l)
}

// AddProducerLayer добавляет слой изображения или процедурный слой
func (s *Scene) AddProducerLayer(name string, kind LayerKind, p Producer) (*Layer, error) {
	if kind != KindImage && kind != KindProcedural {
		return nil, fmt.Errorf("вид слоя %s не использует внешний источник", kind)
	}
	l := newLayer(s, s.nextLayer, name)
	s.nextLayer++
	l.kind = kind
	l.producer = p
	return s.appendLayer(l), nil
}

// RestoreLayer добавляет слой с заданным идентификатором (при загрузке документа)
func (s *Scene) RestoreLayer(id LayerID, kind LayerKind, name string) (*Layer, error) {
	if id <= 0 || s.Layer(id) != nil {
		return nil, fmt.Errorf("%w: слой %d", ErrIDTaken, id)
	}
	l := newLayer(s, id, name)
	l.kind = kind
	if kind == KindVolume {
		l.attach(volume.New(s.pool))
	}
	if id >= s.nextLayer {
		s.nextLayer = id + 1
	}
	return s.appendLayer(l), nil
}

// SetCloneBase задает источник клона (при загрузке документа)
func (l *Layer) SetCloneBase(id LayerID) error {
	if l.kind != KindClone {
		return fmt.Errorf("слой %d не является клоном", l.id)
	}
	l.baseID = id
	l.invalidate()
	return nil
}

// SetProducer задает внешний источник слоя изображения или процедурного слоя
func (l *Layer) SetProducer(p Producer) error {
	if l.kind != KindImage && l.kind != KindProcedural {
		return fmt.Errorf("слой %d не использует внешний источник", l.id)
	}
	l.producer = p
	l.invalidate()
	return nil
}

// DeleteLayer удаляет слой. Клоны удаленного слоя становятся висячими:
// связь слабая и не удерживает исходный слой.
func (s *Scene) DeleteLayer(id LayerID) error {
	i := s.layerIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrLayerNotFound, id)
	}
	l := s.layers[i]
	s.layers = slices.Delete(s.layers, i, i+1)
	l.release()

	if s.activeLayer == id {
		s.activeLayer = 0
		if len(s.layers) > 0 {
			s.activeLayer = s.layers[max(i-1, 0)].id
		}
	}
	s.invalidate()
	return nil
}

// MoveLayer сдвигает слой в порядке наложения на d позиций
// (положительное d: вверх). Выход за края ограничивается.
func (s *Scene) MoveLayer(id LayerID, d int) error {
	i := s.layerIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrLayerNotFound, id)
	}
	j := min(max(i+d, 0), len(s.layers)-1)
	if i == j {
		return nil
	}
	l := s.layers[i]
	s.layers = slices.Delete(s.layers, i, i+1)
	s.layers = slices.Insert(s.layers, j, l)
	s.invalidate()
	return nil
}

// DuplicateLayer создает копию слоя над исходным. Объем разделяется
// по ссылке и копируется только при изменении.
func (s *Scene) DuplicateLayer(id LayerID) (*Layer, error) {
	i := s.layerIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %d", ErrLayerNotFound, id)
	}
	c := s.layers[i].copyTo(s)
	c.id = s.nextLayer
	s.nextLayer++
	c.name = s.layers[i].name + " copy"
	c.keyOK = false

	s.layers = slices.Insert(s.layers, i+1, c)
	s.activeLayer = c.id
	s.invalidate()
	return c, nil
}

// CloneLayer создает слой-клон, ссылающийся на объем исходного слоя
func (s *Scene) CloneLayer(id LayerID) (*Layer, error) {
	i := s.layerIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %d", ErrLayerNotFound, id)
	}
	base := s.layers[i]
	if base.kind != KindVolume {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCloneBase, id)
	}
	l := newLayer(s, s.nextLayer, base.name+" clone")
	s.nextLayer++
	l.kind = KindClone
	l.baseID = id
	l.mat = base.mat
	l.tint = base.tint

	s.layers = slices.Insert(s.layers, i+1, l)
	s.activeLayer = l.id
	s.invalidate()
	return l, nil
}

// Unclone превращает клон в обычный слой с собственной копией объема
func (s *Scene) Unclone(id LayerID) error {
	l := s.Layer(id)
	if l == nil {
		return fmt.Errorf("%w: %d", ErrLayerNotFound, id)
	}
	if l.kind != KindClone {
		return nil
	}
	base, err := s.CloneSource(l)
	if err != nil {
		return err
	}
	l.kind = KindVolume
	l.baseID = 0
	l.attach(base.Clone())
	l.invalidate()
	return nil
}

// CloneSource возвращает объем исходного слоя клона.
// Отсутствующий источник: явная ошибка, а не пустой объем.
func (s *Scene) CloneSource(l *Layer) (*volume.Volume, error) {
	base := s.Layer(l.baseID)
	if base == nil {
		return nil, fmt.Errorf("%w: слой %d ссылается на %d", ErrDanglingClone, l.id, l.baseID)
	}
	if base.kind != KindVolume || base.vol == nil {
		return nil, fmt.Errorf("%w: слой %d ссылается на %d", ErrInvalidCloneBase, l.id, l.baseID)
	}
	return base.vol, nil
}

// Bounds возвращает Box, охватывающий видимые слои сцены после их
// преобразований. Клоны без источника и неготовые внешние источники
// не учитываются.
func (s *Scene) Bounds() vec.Box {
	var out vec.Box
	for _, l := range s.layers {
		if !l.visible {
			continue
		}
		var src *volume.Volume
		switch l.kind {
		case KindClone:
			src, _ = s.CloneSource(l)
		case KindImage, KindProcedural:
			if l.producer != nil {
				src, _ = l.producer.Volume()
			}
		default:
			src = l.vol
		}
		if src == nil {
			continue
		}
		out = out.Union(l.mat.ApplyBox(src.Bounds()))
	}
	return out
}

// CanEdit сообщает, можно ли менять объем слоя инструментами
func (s *Scene) CanEdit(id LayerID) bool {
	l := s.Layer(id)
	return l != nil && l.CanEdit()
}

// Cameras возвращает камеры сцены
func (s *Scene) Cameras() []*Camera {
	return slices.Clone(s.cameras)
}

// Camera возвращает камеру по идентификатору или nil
func (s *Scene) Camera(id CameraID) *Camera {
	for _, c := range s.cameras {
		if c.id == id {
			return c
		}
	}
	return nil
}

// ActiveCamera возвращает активную камеру или nil
func (s *Scene) ActiveCamera() *Camera {
	return s.Camera(s.activeCamera)
}

// AddCamera добавляет камеру и делает ее активной
func (s *Scene) AddCamera(name string) *Camera {
	c := newCamera(s.nextCamera, name)
	s.nextCamera++
	s.cameras = append(s.cameras, c)
	s.activeCamera = c.id
	return c
}

// RestoreCamera добавляет камеру с заданным идентификатором
func (s *Scene) RestoreCamera(id CameraID, name string) (*Camera, error) {
	if id <= 0 || s.Camera(id) != nil {
		return nil, fmt.Errorf("%w: камера %d", ErrIDTaken, id)
	}
	c := newCamera(id, name)
	if id >= s.nextCamera {
		s.nextCamera = id + 1
	}
	s.cameras = append(s.cameras, c)
	s.activeCamera = c.id
	return c, nil
}

// DeleteCamera удаляет камеру
func (s *Scene) DeleteCamera(id CameraID) error {
	i := slices.IndexFunc(s.cameras, func(c *Camera) bool { return c.id == id })
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrCameraNotFound, id)
	}
	s.cameras = slices.Delete(s.cameras, i, i+1)
	if s.activeCamera == id {
		s.activeCamera = 0
		if len(s.cameras) > 0 {
			s.activeCamera = s.cameras[0].id
		}
	}
	return nil
}

// SetActiveCamera делает камеру активной
func (s *Scene) SetActiveCamera(id CameraID) error {
	if s.Camera(id) == nil {
		return fmt.Errorf("%w: %d", ErrCameraNotFound, id)
	}
	s.activeCamera = id
	return nil
}

// Box возвращает ограничивающий Box сцены
func (s *Scene) Box() vec.Box { return s.box }

// SetBox меняет ограничивающий Box сцены
func (s *Scene) SetBox(b vec.Box) { s.box = b }

// invalidate сбрасывает кэш ключа слоев
func (s *Scene) invalidate() {
	s.mu.Lock()
	s.layersKeyOK = false
	s.mu.Unlock()
}

// Key возвращает ключ сцены: упорядоченные ключи слоев, ключи камер,
// идентификаторы активного слоя и камеры и Box.
//
// Часть, зависящая от слоев, кэшируется и пересчитывается только после
// инвалидации из нижнего уровня. Ключи внешних источников и камер дешевы
// и проверяются при каждом вызове.
func (s *Scene) Key() uint64 {
	h := fingerprint.New("scene").
		WriteUint64(s.LayersKey()).
		WriteInt(int(s.activeLayer)).
		WriteInt(int(s.activeCamera))
	for _, c := range s.cameras {
		h.WriteInt(int(c.id)).WriteUint64(c.Key())
	}
	h.WriteInt(s.box.Min.X).WriteInt(s.box.Min.Y).WriteInt(s.box.Min.Z)
	h.WriteInt(s.box.Max.X).WriteInt(s.box.Max.Y).WriteInt(s.box.Max.Z)
	return h.Sum()
}

// LayersKey возвращает ключ упорядоченного набора слоев без камер и Box.
// По нему композиция решает, нужен ли пересчет.
func (s *Scene) LayersKey() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.layersKeyOK && s.producersUnchanged() {
		return s.layersKey
	}
	h := fingerprint.New("layers")
	producers := s.producerKeys[:0]
	for _, l := range s.layers {
		h.WriteInt(int(l.id)).WriteUint64(l.Key())
		if l.kind == KindImage || l.kind == KindProcedural {
			producers = append(producers, l.producerKey())
		}
	}
	s.layersKey = h.Sum()
	s.producerKeys = producers
	s.layersKeyOK = true
	return s.layersKey
}

func (s *Scene) producersUnchanged() bool {
	i := 0
	for _, l := range s.layers {
		if l.kind != KindImage && l.kind != KindProcedural {
			continue
		}
		if i >= len(s.producerKeys) || s.producerKeys[i] != l.producerKey() {
			return false
		}
		i++
	}
	return i == len(s.producerKeys)
}

// Snapshot возвращает независимую копию сцены. Объемы разделяются по
// ссылке (copy-on-write), новыми становятся только заголовки.
func (s *Scene) Snapshot() *Scene {
	c := &Scene{
		pool:         s.pool,
		activeLayer:  s.activeLayer,
		activeCamera: s.activeCamera,
		nextLayer:    s.nextLayer,
		nextCamera:   s.nextCamera,
		box:          s.box,
	}
	c.layers = make([]*Layer, len(s.layers))
	for i, l := range s.layers {
		c.layers[i] = l.copyTo(c)
	}
	c.cameras = make([]*Camera, len(s.cameras))
	for i, cam := range s.cameras {
		cp := *cam
		c.cameras[i] = &cp
	}
	s.mu.Lock()
	c.layersKey, c.layersKeyOK = s.layersKey, s.layersKeyOK
	c.producerKeys = slices.Clone(s.producerKeys)
	s.mu.Unlock()
	return c
}

// Release освобождает объемы слоев сцены
func (s *Scene) Release() {
	for _, l := range s.layers {
		l.release()
	}
	s.layers = nil
	s.invalidate()
}

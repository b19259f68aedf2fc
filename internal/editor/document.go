package editor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/annel0/voxedit/internal/compose"
	"github.com/annel0/voxedit/internal/eventbus"
	"github.com/annel0/voxedit/internal/history"
	"github.com/annel0/voxedit/internal/logging"
	"github.com/annel0/voxedit/internal/observability"
	"github.com/annel0/voxedit/internal/scene"
	"github.com/annel0/voxedit/internal/storage"
	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/volume"
	"github.com/annel0/voxedit/internal/voxel"
)

// Document открытый проект: сцена, ее история и кэш композиции.
// Методы безопасны для одновременного вызова.
type Document struct {
	id     uuid.UUID
	name   string
	editor *Editor
	logger *logging.Logger

	mu        sync.Mutex
	scene     *scene.Scene
	history   *history.History
	composer  *compose.Composer
	clipboard *volume.Volume
	selection vec.Box
	savedKey  uint64
	stroke    *Stroke
	producers []closer
}

type closer interface{ Close() }

func (d *Document) ID() uuid.UUID { return d.id }

func (d *Document) Name() string { return d.name }

// Key ключ текущей сцены
func (d *Document) Key() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scene.Key()
}

// IsDirty сообщает, изменилась ли сцена с последнего сохранения.
// Новый документ считается измененным.
func (d *Document) IsDirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scene.Key() != d.savedKey
}

// Edit вызывает fn с текущей сценой под блокировкой документа и, если fn
// не вернула ошибку, записывает результат в историю под именем label.
func (d *Document) Edit(ctx context.Context, label string, fn func(s *scene.Scene) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stroke != nil {
		return ErrStrokeActive
	}
	if err := fn(d.scene); err != nil {
		return err
	}
	d.push(ctx, label)
	return nil
}

// View вызывает fn с текущей сценой только для чтения
func (d *Document) View(fn func(s *scene.Scene)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.scene)
}

func (d *Document) push(ctx context.Context, label string) {
	n := d.history.Push(d.scene, label)
	d.editor.publish(ctx, eventbus.TypeHistoryPush, d.id, documentEvent{Name: d.name, Key: n.Key, Label: label})
}

// Labels имена действий истории и индекс текущего
func (d *Document) Labels() ([]string, int) { return d.history.Labels() }

// FitCamera наводит активную камеру на содержимое документа: на Box
// сцены, если он задан, иначе на видимые слои.
func (d *Document) FitCamera(ctx context.Context) (vec.Box, error) {
	var box vec.Box
	err := d.Edit(ctx, "camera", func(s *scene.Scene) error {
		cam := s.ActiveCamera()
		if cam == nil {
			return scene.ErrCameraNotFound
		}
		box = s.Box()
		if box.Empty() {
			box = s.Bounds()
		}
		cam.FitBox(box)
		return nil
	})
	return box, err
}

// Undo возвращает сцену к предыдущему узлу истории. Незавершенное
// применение инструмента отменяется. false: отменять нечего.
func (d *Document) Undo(ctx context.Context) bool {
	return d.step(ctx, d.history.Undo, eventbus.TypeHistoryUndo)
}

// Redo повторяет отмененное действие. false: повторять нечего.
func (d *Document) Redo(ctx context.Context) bool {
	return d.step(ctx, d.history.Redo, eventbus.TypeHistoryRedo)
}

func (d *Document) step(ctx context.Context, move func() (*scene.Scene, bool), typ string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.abortLocked(ctx)
	s, ok := move()
	if !ok {
		return false
	}
	old := d.scene
	d.scene = s
	old.Release()

	label := ""
	if n := d.history.Current(); n != nil {
		label = n.Label
	}
	d.editor.publish(ctx, typ, d.id, documentEvent{Name: d.name, Key: s.Key(), Label: label})
	return true
}

// Selection текущее выделение
func (d *Document) Selection() vec.Box {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selection
}

func (d *Document) SetSelection(b vec.Box) error {
	if err := volume.CheckBox(b); err != nil {
		return err
	}
	d.mu.Lock()
	d.selection = b
	d.mu.Unlock()
	return nil
}

// Copy копирует выделение активного слоя в буфер обмена
func (d *Document) Copy() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	src, err := d.activeVolume()
	if err != nil {
		return err
	}
	vol, err := src.CopyRegion(d.selection)
	if err != nil {
		return err
	}
	if d.clipboard != nil {
		d.clipboard.Release()
	}
	d.clipboard = vol
	return nil
}

// Paste вливает буфер обмена в активный слой со сдвигом offset
func (d *Document) Paste(ctx context.Context, offset vec.Vec3, mode voxel.Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stroke != nil {
		return ErrStrokeActive
	}
	if d.clipboard == nil {
		return ErrEmptyClipboard
	}
	dst, err := d.activeVolume()
	if err != nil {
		return err
	}
	if err := dst.Paste(d.clipboard, offset, mode); err != nil {
		return err
	}
	d.push(ctx, "paste")
	return nil
}

// Paint применяет одну форму к активному слою как отдельное действие
func (d *Document) Paint(ctx context.Context, shape volume.Shape, c voxel.Color, mode voxel.Mode) error {
	st, err := d.BeginStroke(mode)
	if err != nil {
		return err
	}
	if err := st.Apply(shape, c); err != nil {
		st.Abort(ctx)
		return err
	}
	_, err = st.Commit(ctx, "paint")
	return err
}

// activeVolume объем активного слоя, если его можно редактировать
func (d *Document) activeVolume() (*volume.Volume, error) {
	l := d.scene.ActiveLayer()
	if l == nil {
		return nil, scene.ErrLayerNotFound
	}
	if !l.CanEdit() {
		return nil, fmt.Errorf("слой %d: %w", l.ID(), scene.ErrNotEditable)
	}
	return l.Volume(), nil
}

// Compose собирает запрошенные виды. Пока инструмент применяется, его
// предпросмотр входит во все виды.
func (d *Document) Compose(views compose.Mask) (map[compose.View]*compose.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.composeLocked(views)
}

func (d *Document) composeLocked(views compose.Mask) (map[compose.View]*compose.Result, error) {
	req := compose.Request{Views: views}
	if d.stroke != nil {
		req.WithPreview = compose.MaskAll
		req.Preview = &compose.Preview{Layer: d.stroke.layer, Volume: d.stroke.vol}
	}
	return d.composer.Compose(d.scene, req)
}

// Stats сводка по видимому результату
type Stats struct {
	Blocks int      `json:"blocks"`
	Voxels int64    `json:"voxels"`
	Bounds vec.Box  `json:"bounds"`
	Key    uint64   `json:"key"`
	Errors []string `json:"errors,omitempty"`
}

// Stats собирает вид рендера и считает его воксели параллельно по блокам
func (d *Document) Stats(ctx context.Context) (Stats, error) {
	// результат принадлежит композитору и может быть пересчитан
	// параллельным Compose; считаем по собственной ссылке
	d.mu.Lock()
	res, err := d.composeLocked(compose.MaskRender)
	if err != nil {
		d.mu.Unlock()
		return Stats{}, err
	}
	r := res[compose.ViewRender]
	vol := r.Volume.Clone()
	d.mu.Unlock()
	defer vol.Release()

	var voxels atomic.Int64
	err = vol.ParallelBlocks(ctx, d.editor.opts.Workers, func(_ context.Context, _ vec.Vec3, b *voxel.Block) error {
		voxels.Add(int64(b.Count()))
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		Blocks: vol.Len(),
		Voxels: voxels.Load(),
		Bounds: vol.Bounds(),
		Key:    r.Key,
	}
	for _, e := range r.Errors {
		st.Errors = append(st.Errors, e.Error())
	}
	return st, nil
}

// Save сохраняет сцену в хранилище под именем документа
func (d *Document) Save(ctx context.Context) (storage.ProjectInfo, error) {
	store := d.editor.opts.Store
	if store == nil {
		return storage.ProjectInfo{}, ErrNoStore
	}
	ctx, span := observability.StartSpan(ctx, "editor.Save")
	defer span.End()

	d.mu.Lock()
	snap := d.scene.Snapshot()
	d.mu.Unlock()
	defer snap.Release()
	key := snap.Key()

	info, err := store.Save(ctx, d.name, snap)
	if err != nil {
		span.RecordError(err)
		return storage.ProjectInfo{}, fmt.Errorf("сохранение %q: %w", d.name, err)
	}

	d.mu.Lock()
	d.savedKey = key
	d.mu.Unlock()

	d.logger.Info("Документ %s сохранен: %d слоев, %d блоков", d.name, info.Layers, info.Blocks)
	d.editor.publish(ctx, eventbus.TypeDocumentSaved, d.id, documentEvent{Name: d.name, Key: key})
	return info, nil
}

func (d *Document) close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.abortLocked(context.Background())
	d.composer.Close()
	d.history.Clear()
	if d.clipboard != nil {
		d.clipboard.Release()
		d.clipboard = nil
	}
	d.scene.Release()
	for _, p := range d.producers {
		p.Close()
	}
	d.producers = nil
}

package editor

import (
	"context"

	"github.com/annel0/voxedit/internal/eventbus"
	"github.com/annel0/voxedit/internal/history"
	"github.com/annel0/voxedit/internal/scene"
	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/volume"
	"github.com/annel0/voxedit/internal/voxel"
)

// Stroke незавершенное применение инструмента к активному слою.
// Изменения копятся в копии объема слоя и видны в Compose как
// предпросмотр. Commit переносит их в слой и пишет в историю, Abort
// отбрасывает без следа в истории.
type Stroke struct {
	doc   *Document
	layer scene.LayerID
	mode  voxel.Mode
	vol   *volume.Volume
	done  bool
}

// BeginStroke начинает применение инструмента в режиме mode
func (d *Document) BeginStroke(mode voxel.Mode) (*Stroke, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stroke != nil {
		return nil, ErrStrokeActive
	}
	src, err := d.activeVolume()
	if err != nil {
		return nil, err
	}
	st := &Stroke{
		doc:   d,
		layer: d.scene.ActiveLayer().ID(),
		mode:  mode,
		vol:   src.Clone(),
	}
	d.stroke = st
	return st, nil
}

// Apply добавляет форму к предпросмотру
func (st *Stroke) Apply(shape volume.Shape, c voxel.Color) error {
	d := st.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if st.done {
		return ErrStrokeDone
	}

	src, err := volume.FromShape(d.editor.opts.Pool, shape, c)
	if err != nil {
		return err
	}
	defer src.Release()
	return volume.Merge(st.vol, src, vec.Identity, st.mode)
}

// Volume объем предпросмотра. Действителен до Commit или Abort.
func (st *Stroke) Volume() *volume.Volume { return st.vol }

// Commit переносит предпросмотр в слой и записывает узел истории
func (st *Stroke) Commit(ctx context.Context, label string) (*history.Node, error) {
	d := st.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if st.done {
		return nil, ErrStrokeDone
	}
	st.done = true
	d.stroke = nil

	l := d.scene.Layer(st.layer)
	if l == nil {
		st.vol.Release()
		return nil, scene.ErrLayerNotFound
	}
	if err := l.SetVolume(st.vol); err != nil {
		st.vol.Release()
		return nil, err
	}

	n := d.history.Push(d.scene, label)
	d.editor.publish(ctx, eventbus.TypeStrokeCommit, d.id, strokeEvent{Layer: int(st.layer), Mode: st.mode.String(), Label: label})
	d.editor.publish(ctx, eventbus.TypeHistoryPush, d.id, documentEvent{Name: d.name, Key: n.Key, Label: label})
	return n, nil
}

// Abort отбрасывает предпросмотр. Повторный вызов ничего не делает.
func (st *Stroke) Abort(ctx context.Context) {
	d := st.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if st.done {
		return
	}
	d.abortLocked(ctx)
}

// abortLocked отменяет текущий инструмент документа, если он есть
func (d *Document) abortLocked(ctx context.Context) {
	st := d.stroke
	if st == nil {
		return
	}
	st.done = true
	d.stroke = nil
	st.vol.Release()
	d.editor.publish(ctx, eventbus.TypeStrokeAbort, d.id, strokeEvent{Layer: int(st.layer), Mode: st.mode.String()})
}

type strokeEvent struct {
	Layer int    `json:"layer"`
	Mode  string `json:"mode"`
	Label string `json:"label,omitempty"`
}

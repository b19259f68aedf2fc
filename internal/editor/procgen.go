package editor

import (
	"context"
	"fmt"

	"github.com/annel0/voxedit/internal/procgen"
	"github.com/annel0/voxedit/internal/scene"
	"github.com/annel0/voxedit/internal/vec"
)

// AddTerrain генерирует рельеф и добавляет его процедурным слоем поверх
// остальных. Нулевые Seed и Scale заменяются значениями редактора.
func (d *Document) AddTerrain(ctx context.Context, name string, params procgen.TerrainParams) (*scene.Layer, error) {
	if params.Seed == 0 {
		params.Seed = d.editor.opts.TerrainSeed
	}
	if params.Scale == 0 {
		params.Scale = d.editor.opts.TerrainScale
	}
	if limit := d.editor.opts.TerrainMaxArea; limit > 0 && params.Area() > limit {
		return nil, fmt.Errorf("%w: площадь %d больше %d", procgen.ErrInvalidParams, params.Area(), limit)
	}
	t, err := procgen.NewTerrain(d.editor.opts.Pool, params)
	if err != nil {
		return nil, err
	}
	// генерация идет без блокировки документа
	if err := t.Generate(ctx); err != nil {
		t.Close()
		return nil, fmt.Errorf("генерация рельефа: %w", err)
	}

	var layer *scene.Layer
	err = d.Edit(ctx, "terrain", func(s *scene.Scene) error {
		l, err := s.AddProducerLayer(name, scene.KindProcedural, t)
		if err != nil {
			return err
		}
		layer = l
		d.producers = append(d.producers, t)
		return nil
	})
	if err != nil {
		t.Close()
		return nil, err
	}
	return layer, nil
}

// AddImage добавляет слой-изображение из PNG с левым нижним углом в origin
func (d *Document) AddImage(ctx context.Context, name string, png []byte, origin vec.Vec3) (*scene.Layer, error) {
	img, err := procgen.DecodeImagePlane(d.editor.opts.Pool, png, origin)
	if err != nil {
		return nil, err
	}
	var layer *scene.Layer
	err = d.Edit(ctx, "image", func(s *scene.Scene) error {
		l, err := s.AddProducerLayer(name, scene.KindImage, img)
		if err != nil {
			return err
		}
		layer = l
		d.producers = append(d.producers, img)
		return nil
	})
	if err != nil {
		img.Close()
		return nil, err
	}
	return layer, nil
}

// adoptProducers принимает во владение источники загруженной сцены.
// Вызывается под d.mu.
func (d *Document) adoptProducers() {
	for _, l := range d.scene.Layers() {
		if c, ok := l.Producer().(closer); ok {
			d.producers = append(d.producers, c)
		}
	}
}

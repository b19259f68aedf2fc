package compose

import (
	"github.com/annel0/voxedit/internal/scene"
)

// MergeVisible сливает все видимые слои в один новый слой поверх
// остальных. Скрытые слои остаются как есть. Слои, которые не удалось
// собрать (висячие клоны), удаляются вместе с остальными видимыми.
func MergeVisible(s *scene.Scene) (*scene.Layer, error) {
	c := NewComposer(s.Pool(), nil)
	defer c.Close()
	vol, errs, err := c.compose(s, nil)
	if err != nil {
		return nil, err
	}
	for _, e := range errs {
		c.logger.Warn("Слияние слоев: %v", e)
	}

	var visible []scene.LayerID
	for _, l := range s.Layers() {
		if l.Visible() {
			visible = append(visible, l.ID())
		}
	}

	merged := s.AddLayer("merged")
	if err := merged.SetVolume(vol); err != nil {
		vol.Release()
		return nil, err
	}
	for _, id := range visible {
		if err := s.DeleteLayer(id); err != nil {
			return nil, err
		}
	}
	if err := s.SetActiveLayer(merged.ID()); err != nil {
		return nil, err
	}
	return merged, nil
}

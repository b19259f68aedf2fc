package procgen

import (
	"context"
	"fmt"

	"github.com/annel0/voxedit/internal/scene"
	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/voxel"
)

// Descriptor сериализуемое описание источника. По нему источник
// восстанавливается при загрузке документа.
type Descriptor struct {
	Kind    string         `json:"kind"`
	Terrain *TerrainParams `json:"terrain,omitempty"`
	Image   []byte         `json:"image,omitempty"`
	Origin  vec.Vec3       `json:"origin,omitempty"`
}

const (
	kindTerrain = "terrain"
	kindImage   = "image"
)

// Describe возвращает описание известного источника
func Describe(p scene.Producer) (Descriptor, error) {
	switch src := p.(type) {
	case *Terrain:
		params := src.Params()
		return Descriptor{Kind: kindTerrain, Terrain: &params}, nil
	case *ImagePlane:
		return Descriptor{Kind: kindImage, Image: src.PNG(), Origin: src.Origin()}, nil
	}
	return Descriptor{}, fmt.Errorf("источник %T не сериализуется", p)
}

// Restore восстанавливает источник по описанию. Рельеф генерируется сразу.
func Restore(ctx context.Context, pool *voxel.Pool, d Descriptor) (scene.Producer, error) {
	switch d.Kind {
	case kindTerrain:
		if d.Terrain == nil {
			return nil, fmt.Errorf("%w: нет параметров рельефа", ErrInvalidParams)
		}
		t, err := NewTerrain(pool, *d.Terrain)
		if err != nil {
			return nil, err
		}
		if err := t.Generate(ctx); err != nil {
			t.Close()
			return nil, err
		}
		return t, nil
	case kindImage:
		return DecodeImagePlane(pool, d.Image, d.Origin)
	}
	return nil, fmt.Errorf("неизвестный вид источника %q", d.Kind)
}

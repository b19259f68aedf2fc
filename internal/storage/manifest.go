package storage

import (
	"time"

	"github.com/annel0/voxedit/internal/procgen"
	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/voxel"
)

// manifestVersion версия формата описания проекта
const manifestVersion = 1

// Manifest описание сохраненного проекта. Блоки хранятся отдельно и
// адресуются по содержимому, поэтому одинаковые блоки разных слоев и
// проектов лежат в базе один раз.
type Manifest struct {
	Version      int            `json:"version"`
	Name         string         `json:"name"`
	SavedAt      time.Time      `json:"saved_at"`
	SceneKey     uint64         `json:"scene_key"`
	Box          vec.Box        `json:"box"`
	ActiveLayer  int            `json:"active_layer"`
	ActiveCamera int            `json:"active_camera"`
	Layers       []LayerRecord  `json:"layers"`
	Cameras      []CameraRecord `json:"cameras"`
}

// LayerRecord описание слоя
type LayerRecord struct {
	ID       int                 `json:"id"`
	Kind     string              `json:"kind"`
	Name     string              `json:"name"`
	Visible  bool                `json:"visible"`
	Tint     voxel.Color         `json:"tint"`
	Mode     string              `json:"mode"`
	Mat      vec.Mat4            `json:"mat"`
	Box      vec.Box             `json:"box"`
	BaseID   int                 `json:"base_id,omitempty"`
	Blocks   []BlockRef          `json:"blocks,omitempty"`
	Producer *procgen.Descriptor `json:"producer,omitempty"`
}

// BlockRef ссылка слоя на блок
type BlockRef struct {
	Coord vec.Vec3 `json:"c"`
	ID    BlockID  `json:"id"`
}

// CameraRecord описание камеры
type CameraRecord struct {
	ID     int        `json:"id"`
	Name   string     `json:"name"`
	Ortho  bool       `json:"ortho"`
	Dist   float64    `json:"dist"`
	Rot    [4]float64 `json:"rot"`
	Ofs    [3]float64 `json:"ofs"`
	Fovy   float64    `json:"fovy"`
	Aspect float64    `json:"aspect"`
}

// ProjectInfo краткие сведения о проекте
type ProjectInfo struct {
	Name    string    `json:"name"`
	SavedAt time.Time `json:"saved_at"`
	Layers  int       `json:"layers"`
	Blocks  int       `json:"blocks"`
}

func (m *Manifest) info() ProjectInfo {
	blocks := 0
	for _, l := range m.Layers {
		blocks += len(l.Blocks)
	}
	return ProjectInfo{Name: m.Name, SavedAt: m.SavedAt, Layers: len(m.Layers), Blocks: blocks}
}

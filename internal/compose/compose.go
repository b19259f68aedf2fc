// Package compose собирает видимые слои сцены в один производный объем,
// который читают рендер и выбор вокселей.
//
// Композиция кэшируется по ключу: результат пересчитывается только если
// изменились ключ слоев сцены или ключ предпросмотра инструмента.
// Виды различаются лишь тем, включают ли они предпросмотр, поэтому виды
// с одинаковым признаком получают один и тот же Result.
// Вклад каждого слоя (объем после преобразования и оттенка) кэшируется
// отдельно, поэтому изменение одного слоя не пересчитывает остальные.
package compose

import (
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/annel0/voxedit/internal/fingerprint"
	"github.com/annel0/voxedit/internal/logging"
	"github.com/annel0/voxedit/internal/metrics"
	"github.com/annel0/voxedit/internal/scene"
	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/volume"
	"github.com/annel0/voxedit/internal/voxel"
)

// View вид композиции
type View uint8

const (
	ViewLayers View = iota // все слои
	ViewPick               // слои для выбора вокселей курсором
	ViewRender             // слои для рендера
	viewCount
)

var viewNames = [...]string{
	ViewLayers: "layers",
	ViewPick:   "pick",
	ViewRender: "render",
}

// String возвращает имя вида
func (v View) String() string {
	if v < viewCount {
		return viewNames[v]
	}
	return "unknown"
}

// Mask набор видов
type Mask uint8

const (
	MaskLayers Mask = 1 << ViewLayers
	MaskPick   Mask = 1 << ViewPick
	MaskRender Mask = 1 << ViewRender
	MaskAll         = MaskLayers | MaskPick | MaskRender
)

// Has проверяет, входит ли вид в набор
func (m Mask) Has(v View) bool { return m&(1<<v) != 0 }

// Preview незавершенное изменение инструмента: объем, временно
// подменяющий собственный объем слоя.
type Preview struct {
	Layer  scene.LayerID
	Volume *volume.Volume
}

func (p *Preview) key() uint64 {
	if p == nil || p.Volume == nil {
		return 0
	}
	return fingerprint.New("preview").WriteInt(int(p.Layer)).WriteUint64(p.Volume.Key()).Sum()
}

// Request запрос композиции
type Request struct {
	Views       Mask     // какие виды нужны
	WithPreview Mask     // какие из них включают предпросмотр
	Preview     *Preview // nil: предпросмотра нет
}

// LayerError ошибка отдельного слоя. Слой пропускается, остальная
// композиция продолжается.
type LayerError struct {
	Layer scene.LayerID
	Err   error
}

func (e LayerError) Error() string {
	return fmt.Sprintf("слой %d: %v", e.Layer, e.Err)
}

func (e LayerError) Unwrap() error { return e.Err }

// Result итог композиции. Объем принадлежит Composer и остается
// действительным до следующего пересчета того же варианта (с предпросмотром
// или без) или Close. Несколько видов могут разделять один Result.
type Result struct {
	Key    uint64
	Volume *volume.Volume
	Errors []LayerError
}

// Blocks возвращает блоки результата в порядке возрастания координат
func (r *Result) Blocks() iter.Seq2[vec.Vec3, *voxel.Block] {
	return r.Volume.IterBlocks()
}

// Err объединяет ошибки слоев (nil, если их нет)
func (r *Result) Err() error {
	errs := make([]error, len(r.Errors))
	for i := range r.Errors {
		errs[i] = r.Errors[i]
	}
	return errors.Join(errs...)
}

// contribution вклад слоя: объем источника после преобразования и оттенка
type contribution struct {
	vol  *volume.Volume
	used bool
}

// варианты кэшированного результата
const (
	variantPlain   = iota // без предпросмотра
	variantPreview        // с предпросмотром
	variantCount
)

// Composer кэширует композицию одного документа
type Composer struct {
	pool    *voxel.Pool
	metrics *metrics.Metrics
	logger  *logging.Logger

	mu       sync.Mutex
	results  [variantCount]*Result
	contribs map[uint64]*contribution
}

// NewComposer создает композитор. m может быть nil.
func NewComposer(pool *voxel.Pool, m *metrics.Metrics) *Composer {
	if pool == nil {
		pool = voxel.DefaultPool
	}
	return &Composer{
		pool:     pool,
		metrics:  m,
		logger:   logging.GetComponentLogger("compose"),
		contribs: make(map[uint64]*contribution),
	}
}

// Compose возвращает результаты запрошенных видов, пересчитывая только
// варианты, чей ключ изменился с прошлого вызова. Ошибка возвращается только
// при нехватке блоков; ошибки отдельных слоев попадают в Result.Errors.
func (c *Composer) Compose(s *scene.Scene, req Request) (map[View]*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[View]*Result, viewCount)
	layersKey := s.LayersKey()
	previewKey := req.Preview.key()
	recomputed := false

	for v := View(0); v < viewCount; v++ {
		if !req.Views.Has(v) {
			continue
		}
		variant, key := variantPlain, layersKey
		var preview *Preview
		if req.WithPreview.Has(v) && req.Preview != nil {
			variant, preview = variantPreview, req.Preview
			key = fingerprint.Mix(layersKey, previewKey)
		}

		if r := c.results[variant]; r != nil && r.Key == key {
			c.metrics.ObserveCompose(v.String(), false, 0)
			out[v] = r
			continue
		}

		start := time.Now()
		vol, errs, err := c.compose(s, preview)
		if err != nil {
			return nil, err
		}
		c.metrics.ObserveCompose(v.String(), true, time.Since(start))
		recomputed = true

		if old := c.results[variant]; old != nil {
			old.Volume.Release()
		}
		r := &Result{Key: key, Volume: vol, Errors: errs}
		c.results[variant] = r
		out[v] = r
	}
	if recomputed {
		c.sweep()
	}
	return out, nil
}

// source объем, который слой вносит в композицию
type source struct {
	layer *scene.Layer
	vol   *volume.Volume
}

// sources разрешает источники видимых слоев в порядке наложения
func (c *Composer) sources(s *scene.Scene, preview *Preview) ([]source, []LayerError) {
	var (
		out  []source
		errs []LayerError
	)
	for _, l := range s.Layers() {
		if !l.Visible() {
			continue
		}
		var vol *volume.Volume
		switch l.Kind() {
		case scene.KindVolume:
			vol = l.Volume()
			if preview != nil && preview.Layer == l.ID() && preview.Volume != nil {
				vol = preview.Volume
			}
		case scene.KindClone:
			base, err := s.CloneSource(l)
			if err != nil {
				errs = append(errs, LayerError{Layer: l.ID(), Err: err})
				c.metrics.LayerError()
				c.logger.Warn("Слой %d пропущен: %v", l.ID(), err)
				continue
			}
			vol = base
		case scene.KindImage, scene.KindProcedural:
			p := l.Producer()
			if p == nil {
				continue
			}
			produced, ready := p.Volume()
			if !ready {
				// еще не сгенерирован, считается пустым
				continue
			}
			vol = produced
		}
		if vol == nil || (vol.IsEmpty() && l.Mode() != voxel.ModeReplace) {
			continue
		}
		out = append(out, source{layer: l, vol: vol})
	}
	return out, errs
}

func (c *Composer) compose(s *scene.Scene, preview *Preview) (*volume.Volume, []LayerError, error) {
	srcs, errs := c.sources(s, preview)

	// все, что ниже последнего слоя в режиме замены, не влияет на результат
	first := 0
	for i := len(srcs) - 1; i >= 0; i-- {
		if srcs[i].layer.Mode() == voxel.ModeReplace {
			first = i
			break
		}
	}

	acc := volume.New(c.pool)
	for _, src := range srcs[first:] {
		vol, err := c.contribution(src)
		if err != nil {
			acc.Release()
			return nil, nil, err
		}
		if err := volume.Merge(acc, vol, vec.Identity, src.layer.Mode()); err != nil {
			acc.Release()
			return nil, nil, err
		}
	}
	return acc, errs, nil
}

// contribution возвращает объем источника после преобразования и оттенка
// слоя. Ключ зависит только от содержимого источника, матрицы и оттенка.
func (c *Composer) contribution(src source) (*volume.Volume, error) {
	mat, tint := src.layer.Transform(), src.layer.Tint()
	if mat.IsIdentity() && tint == voxel.White {
		return src.vol, nil
	}

	h := fingerprint.New("contribution").WriteUint64(src.vol.Key()).WriteBytes(tint[:])
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			h.WriteFloat(mat[i][j])
		}
	}
	key := h.Sum()
	if cached, ok := c.contribs[key]; ok {
		cached.used = true
		return cached.vol, nil
	}

	moved, err := volume.Transform(src.vol, mat)
	if err != nil {
		return nil, err
	}
	tinted, err := volume.Tint(moved, tint)
	moved.Release()
	if err != nil {
		return nil, err
	}
	c.contribs[key] = &contribution{vol: tinted, used: true}
	return tinted, nil
}

// sweep освобождает вклады, не использованные в последнем вызове
func (c *Composer) sweep() {
	for key, ct := range c.contribs {
		if !ct.used {
			ct.vol.Release()
			delete(c.contribs, key)
			continue
		}
		ct.used = false
	}
}

// Invalidate сбрасывает кэш результатов
func (c *Composer) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropResults()
}

func (c *Composer) dropResults() {
	for i, r := range c.results {
		if r != nil {
			r.Volume.Release()
			c.results[i] = nil
		}
	}
}

// Close освобождает все кэшированные объемы
func (c *Composer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropResults()
	for key, ct := range c.contribs {
		ct.vol.Release()
		delete(c.contribs, key)
	}
}

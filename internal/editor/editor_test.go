package editor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxedit/internal/compose"
	"github.com/annel0/voxedit/internal/eventbus"
	"github.com/annel0/voxedit/internal/procgen"
	"github.com/annel0/voxedit/internal/scene"
	"github.com/annel0/voxedit/internal/storage"
	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/volume"
	"github.com/annel0/voxedit/internal/voxel"
)

var red = voxel.RGBA(255, 0, 0, 255)

type recorder struct {
	mu    sync.Mutex
	types []string
}

func (r *recorder) handle(_ context.Context, ev *eventbus.Envelope) {
	r.mu.Lock()
	r.types = append(r.types, ev.EventType)
	r.mu.Unlock()
}

type fixture struct {
	ed   *Editor
	pool *voxel.Pool
	bus  eventbus.EventBus
	rec  *recorder
}

func setup(t *testing.T, withStore bool) *fixture {
	t.Helper()
	f := &fixture{pool: voxel.NewPool(0), bus: eventbus.NewMemoryBus(256), rec: &recorder{}}
	_, err := f.bus.Subscribe(context.Background(), eventbus.Filter{}, f.rec.handle)
	require.NoError(t, err)

	opts := Options{Pool: f.pool, Bus: f.bus, HistoryMax: 16, Workers: 2}
	if withStore {
		store, err := storage.Open(storage.Options{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		opts.Store = store
	}
	f.ed = New(opts)
	t.Cleanup(func() {
		f.ed.Close()
		f.bus.Close()
	})
	return f
}

// events закрывает шину и возвращает типы доставленных событий
// Обработчики вызываются в отдельных горутинах, порядок не гарантирован.
func (f *fixture) events() []string {
	f.bus.Close()
	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	return f.rec.types
}

func cube(a, b vec.Vec3) volume.Shape {
	return volume.Cube{Box: vec.NewBox(a, b)}
}

func voxelAt(d *Document, p vec.Vec3) voxel.Color {
	var c voxel.Color
	d.View(func(s *scene.Scene) { c = s.ActiveLayer().Volume().Get(p) })
	return c
}

func TestNewDocument(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	b, err := f.ed.NewDocument(ctx, "b")
	require.NoError(t, err)
	a, err := f.ed.NewDocument(ctx, "a")
	require.NoError(t, err)

	docs := f.ed.Documents()
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].Name())
	assert.Equal(t, "b", docs[1].Name())

	got, err := f.ed.Document(b.ID())
	require.NoError(t, err)
	assert.Same(t, b, got)

	labels, cur := a.Labels()
	assert.Equal(t, []string{"open"}, labels)
	assert.Zero(t, cur)
	assert.True(t, a.IsDirty(), "несохраненный документ")

	require.NoError(t, f.ed.CloseDocument(ctx, a.ID()))
	_, err = f.ed.Document(a.ID())
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.ErrorIs(t, f.ed.CloseDocument(ctx, a.ID()), ErrDocumentNotFound)

	assert.ElementsMatch(t, []string{
		eventbus.TypeDocumentOpened, eventbus.TypeDocumentOpened, eventbus.TypeDocumentClosed,
	}, f.events())
}

func TestPaintUndoRedo(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	d, err := f.ed.NewDocument(ctx, "doc")
	require.NoError(t, err)

	p := vec.Vec3{X: 3, Y: 4, Z: 5}
	k0 := d.Key()
	require.NoError(t, d.Paint(ctx, cube(vec.Vec3{}, vec.Vec3{X: 7, Y: 7, Z: 7}), red, voxel.ModeAdd))
	assert.Equal(t, red, voxelAt(d, p))
	k1 := d.Key()
	assert.NotEqual(t, k0, k1)

	require.True(t, d.Undo(ctx))
	assert.True(t, voxelAt(d, p).IsEmpty())
	assert.Equal(t, k0, d.Key())
	assert.False(t, d.Undo(ctx), "дальше отменять нечего")

	require.True(t, d.Redo(ctx))
	assert.Equal(t, red, voxelAt(d, p))
	assert.Equal(t, k1, d.Key())
	assert.False(t, d.Redo(ctx))

	assert.ElementsMatch(t, []string{
		eventbus.TypeDocumentOpened,
		eventbus.TypeStrokeCommit, eventbus.TypeHistoryPush,
		eventbus.TypeHistoryUndo, eventbus.TypeHistoryRedo,
	}, f.events())
}

func TestStrokePreviewAndAbort(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	d, err := f.ed.NewDocument(ctx, "doc")
	require.NoError(t, err)
	k0 := d.Key()

	st, err := d.BeginStroke(voxel.ModeAdd)
	require.NoError(t, err)
	_, err = d.BeginStroke(voxel.ModeAdd)
	assert.ErrorIs(t, err, ErrStrokeActive)

	require.NoError(t, st.Apply(cube(vec.Vec3{}, vec.Vec3{X: 1, Y: 1, Z: 1}), red))
	assert.Equal(t, 8, st.Volume().Count())
	assert.Equal(t, k0, d.Key(), "предпросмотр не меняет сцену")

	res, err := d.Compose(compose.MaskRender)
	require.NoError(t, err)
	assert.Equal(t, 8, res[compose.ViewRender].Volume.Count(), "предпросмотр виден в композиции")

	st.Abort(ctx)
	st.Abort(ctx)
	assert.ErrorIs(t, st.Apply(cube(vec.Vec3{}, vec.Vec3{}), red), ErrStrokeDone)
	_, err = st.Commit(ctx, "late")
	assert.ErrorIs(t, err, ErrStrokeDone)

	labels, _ := d.Labels()
	assert.Equal(t, []string{"open"}, labels, "отмена не пишет историю")
	res, err = d.Compose(compose.MaskRender)
	require.NoError(t, err)
	assert.True(t, res[compose.ViewRender].Volume.IsEmpty())

	assert.ElementsMatch(t, []string{eventbus.TypeDocumentOpened, eventbus.TypeStrokeAbort}, f.events())
}

func TestUndoAbortsStroke(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	d, err := f.ed.NewDocument(ctx, "doc")
	require.NoError(t, err)
	require.NoError(t, d.Paint(ctx, cube(vec.Vec3{}, vec.Vec3{}), red, voxel.ModeAdd))

	st, err := d.BeginStroke(voxel.ModeSub)
	require.NoError(t, err)
	require.True(t, d.Undo(ctx))
	assert.ErrorIs(t, st.Apply(cube(vec.Vec3{}, vec.Vec3{}), red), ErrStrokeDone)

	_, err = d.BeginStroke(voxel.ModeAdd)
	assert.NoError(t, err, "после отмены можно начать новый инструмент")
}

func TestStrokeOnCloneLayer(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	d, err := f.ed.NewDocument(ctx, "doc")
	require.NoError(t, err)

	require.NoError(t, d.Edit(ctx, "clone", func(s *scene.Scene) error {
		c, err := s.CloneLayer(s.ActiveLayer().ID())
		if err != nil {
			return err
		}
		return s.SetActiveLayer(c.ID())
	}))
	_, err = d.BeginStroke(voxel.ModeAdd)
	assert.ErrorIs(t, err, scene.ErrNotEditable)

	labels, cur := d.Labels()
	assert.Equal(t, []string{"open", "clone"}, labels)
	assert.Equal(t, 1, cur)
}

func TestFitCamera(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	d, err := f.ed.NewDocument(ctx, "doc")
	require.NoError(t, err)
	require.NoError(t, d.Paint(ctx, cube(vec.Vec3{}, vec.Vec3{X: 9, Y: 9, Z: 9}), red, voxel.ModeAdd))

	var before float64
	d.View(func(s *scene.Scene) { before = s.ActiveCamera().Dist })

	box, err := d.FitCamera(ctx)
	require.NoError(t, err)
	assert.Equal(t, vec.Box{Max: vec.Vec3{X: 10, Y: 10, Z: 10}}, box)
	d.View(func(s *scene.Scene) {
		cam := s.ActiveCamera()
		assert.Equal(t, [3]float64{-5, -5, -5}, cam.Ofs, "центр содержимого")
		assert.NotEqual(t, before, cam.Dist)
	})

	labels, _ := d.Labels()
	assert.Equal(t, []string{"open", "paint", "camera"}, labels)

	require.True(t, d.Undo(ctx))
	d.View(func(s *scene.Scene) {
		assert.InDelta(t, before, s.ActiveCamera().Dist, 1e-9, "отмена возвращает камеру")
	})
}

func TestCopyPaste(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	d, err := f.ed.NewDocument(ctx, "doc")
	require.NoError(t, err)

	assert.ErrorIs(t, d.Paste(ctx, vec.Vec3{}, voxel.ModeAdd), ErrEmptyClipboard)
	require.NoError(t, d.Paint(ctx, cube(vec.Vec3{}, vec.Vec3{X: 3, Y: 3, Z: 3}), red, voxel.ModeAdd))

	require.NoError(t, d.SetSelection(vec.NewBox(vec.Vec3{}, vec.Vec3{X: 1, Y: 1, Z: 1})))
	require.NoError(t, d.Copy())
	require.NoError(t, d.Paste(ctx, vec.Vec3{X: 20}, voxel.ModeAdd))

	assert.Equal(t, red, voxelAt(d, vec.Vec3{X: 21, Y: 1, Z: 1}))
	assert.True(t, voxelAt(d, vec.Vec3{X: 22, Y: 2, Z: 2}).IsEmpty(), "вне выделения не копируется")

	labels, _ := d.Labels()
	assert.Equal(t, []string{"open", "paint", "paste"}, labels)

	assert.Error(t, d.SetSelection(vec.Box{Max: vec.Vec3{X: 1 << 30, Y: 1, Z: 1}}))
}

func TestSaveOpen(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	d, err := f.ed.NewDocument(ctx, "castle")
	require.NoError(t, err)
	require.NoError(t, d.Paint(ctx, volume.Sphere{Center: vec.Vec3Float{X: 8, Y: 8, Z: 8}, Radius: 5}, red, voxel.ModeAdd))

	info, err := d.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, "castle", info.Name)
	assert.False(t, d.IsDirty())

	require.NoError(t, d.Paint(ctx, cube(vec.Vec3{X: 30}, vec.Vec3{X: 30}), red, voxel.ModeAdd))
	assert.True(t, d.IsDirty())
	require.True(t, d.Undo(ctx))
	assert.False(t, d.IsDirty(), "отмена возвращает сохраненный ключ")

	opened, err := f.ed.Open(ctx, "castle")
	require.NoError(t, err)
	assert.False(t, opened.IsDirty())
	assert.Equal(t, d.Key(), opened.Key())
	assert.NotEqual(t, d.ID(), opened.ID())

	_, err = f.ed.Open(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNoStore(t *testing.T) {
	f := setup(t, false)
	d, err := f.ed.NewDocument(context.Background(), "doc")
	require.NoError(t, err)
	_, err = d.Save(context.Background())
	assert.ErrorIs(t, err, ErrNoStore)
	_, err = f.ed.Open(context.Background(), "doc")
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestStats(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	d, err := f.ed.NewDocument(ctx, "doc")
	require.NoError(t, err)
	require.NoError(t, d.Paint(ctx, cube(vec.Vec3{X: -1}, vec.Vec3{X: 16, Y: 1, Z: 1}), red, voxel.ModeAdd))

	st, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 18*2*2, st.Voxels)
	assert.Equal(t, 3, st.Blocks)
	assert.Equal(t, vec.NewBox(vec.Vec3{X: -1}, vec.Vec3{X: 16, Y: 1, Z: 1}), st.Bounds)
	assert.Empty(t, st.Errors)
}

func TestCloseReleasesBlocks(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	d, err := f.ed.NewDocument(ctx, "doc")
	require.NoError(t, err)
	require.NoError(t, d.Paint(ctx, cube(vec.Vec3{}, vec.Vec3{X: 40, Y: 3, Z: 3}), red, voxel.ModeAdd))
	require.NoError(t, d.SetSelection(vec.NewBox(vec.Vec3{}, vec.Vec3{X: 20, Y: 3, Z: 3})))
	require.NoError(t, d.Copy())
	_, err = d.Compose(compose.MaskAll)
	require.NoError(t, err)
	_, err = d.BeginStroke(voxel.ModeAdd)
	require.NoError(t, err)

	assert.Positive(t, f.pool.Stats().Live)
	f.ed.Close()
	assert.Zero(t, f.pool.Stats().Live)

	_, err = f.ed.NewDocument(ctx, "late")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestProducerLayers(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	f.ed.opts.TerrainSeed = 3
	f.ed.opts.TerrainScale = 8

	d, err := f.ed.NewDocument(ctx, "land")
	require.NoError(t, err)
	l, err := d.AddTerrain(ctx, "hills", procgen.TerrainParams{
		Box: vec.Box{Max: vec.Vec3{X: 16, Y: 16, Z: 6}},
	})
	require.NoError(t, err)
	assert.Equal(t, scene.KindProcedural, l.Kind())
	assert.EqualValues(t, 3, l.Producer().(*procgen.Terrain).Params().Seed)

	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	_, err = d.AddImage(ctx, "ref", buf.Bytes(), vec.Vec3{Z: 10})
	require.NoError(t, err)

	st, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.Positive(t, st.Voxels)

	labels, _ := d.Labels()
	assert.Equal(t, []string{"open", "terrain", "image"}, labels)

	_, err = d.Save(ctx)
	require.NoError(t, err)
	opened, err := f.ed.Open(ctx, "land")
	require.NoError(t, err)
	assert.Equal(t, d.Key(), opened.Key())
	assert.Len(t, opened.producers, 2)

	_, err = d.AddTerrain(ctx, "bad", procgen.TerrainParams{Scale: -1})
	assert.ErrorIs(t, err, procgen.ErrInvalidParams)

	f.ed.opts.TerrainMaxArea = 100
	_, err = d.AddTerrain(ctx, "wide", procgen.TerrainParams{Box: vec.Box{Max: vec.Vec3{X: 16, Y: 16, Z: 2}}})
	assert.ErrorIs(t, err, procgen.ErrInvalidParams, "лимит площади из настроек")
	assert.Len(t, d.producers, 2, "отклоненный рельеф не добавлен")

	f.ed.Close()
	assert.Zero(t, f.pool.Stats().Live)
}

// Package storage сохраняет проекты в BadgerDB. Блоки хранятся сжатыми
// zstd и адресуются по содержимому, описание сцены хранится в JSON.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"

	"github.com/annel0/voxedit/internal/logging"
	"github.com/annel0/voxedit/internal/procgen"
	"github.com/annel0/voxedit/internal/scene"
	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/volume"
	"github.com/annel0/voxedit/internal/voxel"
)

var (
	ErrNotFound   = errors.New("проект не найден")
	ErrNotReady   = errors.New("хранилище не готово")
	ErrCorrupted  = errors.New("поврежденные данные")
	ErrBadVersion = errors.New("неподдерживаемая версия проекта")
)

const (
	projectPrefix = "project:"
	blockPrefix   = "block:"
)

// Options настройки хранилища
type Options struct {
	Path     string            // директория данных; пусто: хранение в памяти
	Level    zstd.EncoderLevel // уровень сжатия блоков
	Workers  int               // потоки кодирования блоков, <= 0: GOMAXPROCS
	InMemory bool
}

// ProjectStore хранилище проектов
type ProjectStore struct {
	db      *badger.DB
	dbPath  string
	codec   *codec
	workers int
	logger  *logging.Logger

	mutex   sync.RWMutex
	isReady bool
}

// Open открывает хранилище
func Open(opts Options) (*ProjectStore, error) {
	var bopts badger.Options
	dbPath := ""
	if opts.InMemory || opts.Path == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dbPath = filepath.Join(opts.Path, "projects")
		bopts = badger.DefaultOptions(dbPath)
	}
	bopts.Logger = nil // Отключаем логирование BadgerDB

	level := opts.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}
	c, err := newCodec(level)
	if err != nil {
		return nil, err
	}
	db, err := badger.Open(bopts)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &ProjectStore{
		db:      db,
		dbPath:  dbPath,
		codec:   c,
		workers: opts.Workers,
		logger:  logging.GetComponentLogger("storage"),
		isReady: true,
	}, nil
}

// Close закрывает хранилище
func (ps *ProjectStore) Close() error {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if !ps.isReady {
		return nil
	}
	ps.isReady = false
	ps.codec.close()
	return ps.db.Close()
}

// Save сохраняет сцену под именем name. Записываются только блоки,
// которых еще нет в базе.
func (ps *ProjectStore) Save(ctx context.Context, name string, s *scene.Scene) (ProjectInfo, error) {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	if !ps.isReady {
		return ProjectInfo{}, ErrNotReady
	}

	m := Manifest{
		Version:      manifestVersion,
		Name:         name,
		SavedAt:      time.Now().UTC(),
		SceneKey:     s.Key(),
		Box:          s.Box(),
		ActiveCamera: activeCameraID(s),
	}
	if l := s.ActiveLayer(); l != nil {
		m.ActiveLayer = int(l.ID())
	}

	pending := make(map[BlockID][]byte)
	var pendingMu sync.Mutex

	for _, l := range s.Layers() {
		rec := LayerRecord{
			ID:      int(l.ID()),
			Kind:    l.Kind().String(),
			Name:    l.Name(),
			Visible: l.Visible(),
			Tint:    l.Tint(),
			Mode:    l.Mode().String(),
			Mat:     l.Transform(),
			Box:     l.Box(),
			BaseID:  int(l.BaseID()),
		}
		switch l.Kind() {
		case scene.KindVolume:
			refs, err := ps.encodeVolume(ctx, l.Volume(), pending, &pendingMu)
			if err != nil {
				return ProjectInfo{}, err
			}
			rec.Blocks = refs
		case scene.KindImage, scene.KindProcedural:
			if p := l.Producer(); p != nil {
				d, err := procgen.Describe(p)
				if err != nil {
					return ProjectInfo{}, fmt.Errorf("слой %d: %w", l.ID(), err)
				}
				rec.Producer = &d
			}
		}
		m.Layers = append(m.Layers, rec)
	}
	for _, c := range s.Cameras() {
		m.Cameras = append(m.Cameras, CameraRecord{
			ID: int(c.ID()), Name: c.Name, Ortho: c.Ortho, Dist: c.Dist,
			Rot: c.Rot, Ofs: c.Ofs, Fovy: c.Fovy, Aspect: c.Aspect,
		})
	}

	data, err := json.Marshal(m)
	if err != nil {
		return ProjectInfo{}, fmt.Errorf("ошибка сериализации проекта: %w", err)
	}

	written, err := ps.writeBlocks(pending)
	if err != nil {
		return ProjectInfo{}, err
	}
	err = ps.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(projectPrefix+name), data)
	})
	if err != nil {
		return ProjectInfo{}, fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}

	info := m.info()
	ps.logger.Info("Проект %q сохранен: %d слоев, %d блоков, новых %d", name, info.Layers, info.Blocks, written)
	return info, nil
}

func activeCameraID(s *scene.Scene) int {
	if c := s.ActiveCamera(); c != nil {
		return int(c.ID())
	}
	return 0
}

// encodeVolume кодирует блоки объема параллельно и возвращает ссылки
// в порядке возрастания координат
func (ps *ProjectStore) encodeVolume(ctx context.Context, v *volume.Volume, pending map[BlockID][]byte, mu *sync.Mutex) ([]BlockRef, error) {
	if v == nil {
		return nil, nil
	}
	ids := make(map[vec.Vec3]BlockID, v.Len())
	err := v.ParallelBlocks(ctx, ps.workers, func(_ context.Context, bc vec.Vec3, b *voxel.Block) error {
		id, data := ps.codec.encode(b)
		mu.Lock()
		ids[bc] = id
		if _, ok := pending[id]; !ok {
			pending[id] = data
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	refs := make([]BlockRef, 0, len(ids))
	for bc := range v.IterBlocks() {
		refs = append(refs, BlockRef{Coord: bc, ID: ids[bc]})
	}
	return refs, nil
}

// writeBlocks записывает отсутствующие в базе блоки
func (ps *ProjectStore) writeBlocks(pending map[BlockID][]byte) (int, error) {
	missing := make([]BlockID, 0, len(pending))
	err := ps.db.View(func(txn *badger.Txn) error {
		for id := range pending {
			_, err := txn.Get(blockKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				missing = append(missing, id)
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	wb := ps.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range missing {
		if err := wb.Set(blockKey(id), pending[id]); err != nil {
			return 0, fmt.Errorf("ошибка записи блока %s: %w", id, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("ошибка записи блоков: %w", err)
	}
	return len(missing), nil
}

func blockKey(id BlockID) []byte {
	return append([]byte(blockPrefix), id[:]...)
}

// manifest читает описание проекта
func (ps *ProjectStore) manifest(name string) (*Manifest, error) {
	var data []byte
	err := ps.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(projectPrefix + name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: ошибка десериализации проекта: %v", ErrCorrupted, err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, m.Version)
	}
	return &m, nil
}

// Load загружает проект в новую сцену. Одинаковые блоки разделяются
// в памяти так же, как в базе.
func (ps *ProjectStore) Load(ctx context.Context, name string, pool *voxel.Pool) (*scene.Scene, error) {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	if !ps.isReady {
		return nil, ErrNotReady
	}
	m, err := ps.manifest(name)
	if err != nil {
		return nil, err
	}

	s := scene.NewEmpty(pool)
	loaded := make(map[BlockID]*voxel.Block)
	defer func() {
		for _, b := range loaded {
			b.Release()
		}
	}()

	fail := func(err error) (*scene.Scene, error) {
		s.Release()
		return nil, err
	}

	for _, rec := range m.Layers {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if _, err := ps.restoreLayer(ctx, s, rec, loaded); err != nil {
			return fail(fmt.Errorf("слой %d: %w", rec.ID, err))
		}
	}
	for _, rec := range m.Cameras {
		c, err := s.RestoreCamera(scene.CameraID(rec.ID), rec.Name)
		if err != nil {
			return fail(err)
		}
		c.Ortho, c.Dist, c.Rot, c.Ofs = rec.Ortho, rec.Dist, rec.Rot, rec.Ofs
		c.Fovy, c.Aspect = rec.Fovy, rec.Aspect
	}

	s.SetBox(m.Box)
	if m.ActiveLayer != 0 {
		if err := s.SetActiveLayer(scene.LayerID(m.ActiveLayer)); err != nil {
			return fail(err)
		}
	}
	if m.ActiveCamera != 0 {
		if err := s.SetActiveCamera(scene.CameraID(m.ActiveCamera)); err != nil {
			return fail(err)
		}
	}
	ps.logger.Debug("Проект %q загружен: %d уникальных блоков", name, len(loaded))
	return s, nil
}

func (ps *ProjectStore) restoreLayer(ctx context.Context, s *scene.Scene, rec LayerRecord, loaded map[BlockID]*voxel.Block) (*scene.Layer, error) {
	kind, err := parseKind(rec.Kind)
	if err != nil {
		return nil, err
	}
	mode, err := voxel.ParseMode(rec.Mode)
	if err != nil {
		return nil, err
	}
	l, err := s.RestoreLayer(scene.LayerID(rec.ID), kind, rec.Name)
	if err != nil {
		return nil, err
	}
	l.SetVisible(rec.Visible)
	l.SetTint(rec.Tint)
	l.SetMode(mode)
	l.SetTransform(rec.Mat)
	l.SetBox(rec.Box)

	switch kind {
	case scene.KindClone:
		return l, l.SetCloneBase(scene.LayerID(rec.BaseID))
	case scene.KindImage, scene.KindProcedural:
		if rec.Producer == nil {
			return l, nil
		}
		p, err := procgen.Restore(ctx, s.Pool(), *rec.Producer)
		if err != nil {
			return nil, err
		}
		return l, l.SetProducer(p)
	}

	for _, ref := range rec.Blocks {
		b, err := ps.block(s.Pool(), ref.ID, loaded)
		if err != nil {
			return nil, err
		}
		if err := l.Volume().PutBlock(ref.Coord, b); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// block читает блок, переиспользуя уже загруженный
func (ps *ProjectStore) block(pool *voxel.Pool, id BlockID, loaded map[BlockID]*voxel.Block) (*voxel.Block, error) {
	if b, ok := loaded[id]; ok {
		return b, nil
	}
	var data []byte
	err := ps.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: нет блока %s", ErrCorrupted, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения блока из BadgerDB: %w", err)
	}
	b, err := ps.codec.decode(pool, id, data)
	if err != nil {
		return nil, err
	}
	loaded[id] = b
	return b, nil
}

func parseKind(s string) (scene.LayerKind, error) {
	for _, k := range []scene.LayerKind{scene.KindVolume, scene.KindClone, scene.KindImage, scene.KindProcedural} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: неизвестный вид слоя %q", ErrCorrupted, s)
}

// List возвращает сохраненные проекты
func (ps *ProjectStore) List() ([]ProjectInfo, error) {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	if !ps.isReady {
		return nil, ErrNotReady
	}
	var out []ProjectInfo
	err := ps.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(projectPrefix), PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var m Manifest
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupted, err)
			}
			out = append(out, m.info())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete удаляет описание проекта. Блоки остаются до GC.
func (ps *ProjectStore) Delete(name string) error {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	if !ps.isReady {
		return ErrNotReady
	}
	key := []byte(projectPrefix + name)
	return ps.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %q", ErrNotFound, name)
			}
			return err
		}
		return txn.Delete(key)
	})
}

// GC удаляет блоки, на которые не ссылается ни один проект.
// Возвращает число удаленных блоков.
func (ps *ProjectStore) GC() (int, error) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if !ps.isReady {
		return 0, ErrNotReady
	}
	live := make(map[BlockID]struct{})
	var garbage [][]byte
	err := ps.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(projectPrefix), PrefetchValues: true})
		for it.Rewind(); it.Valid(); it.Next() {
			var m Manifest
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &m) }); err != nil {
				it.Close()
				return fmt.Errorf("%w: %v", ErrCorrupted, err)
			}
			for _, l := range m.Layers {
				for _, ref := range l.Blocks {
					live[ref.ID] = struct{}{}
				}
			}
		}
		it.Close()

		bit := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(blockPrefix)})
		defer bit.Close()
		for bit.Rewind(); bit.Valid(); bit.Next() {
			key := bit.Item().KeyCopy(nil)
			var id BlockID
			copy(id[:], key[len(blockPrefix):])
			if _, ok := live[id]; !ok {
				garbage = append(garbage, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := ps.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range garbage {
		if err := wb.Delete(key); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	if len(garbage) > 0 {
		ps.logger.Info("GC: удалено %d блоков", len(garbage))
	}
	return len(garbage), nil
}

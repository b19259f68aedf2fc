package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/annel0/voxedit/internal/editor"
	"github.com/annel0/voxedit/internal/procgen"
	"github.com/annel0/voxedit/internal/scene"
	"github.com/annel0/voxedit/internal/storage"
)

const documentKey = "document"

// DocumentSummary краткое описание документа
type DocumentSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Key   string `json:"key"`
	Dirty bool   `json:"dirty"`
}

// LayerInfo описание слоя документа
type LayerInfo struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Mode    string `json:"mode"`
	Visible bool   `json:"visible"`
	BaseID  int    `json:"base_id,omitempty"`
	Key     string `json:"key"`
	Blocks  int    `json:"blocks"`
}

// DocumentInfo подробное описание документа
type DocumentInfo struct {
	DocumentSummary
	ActiveLayer int         `json:"active_layer"`
	Layers      []LayerInfo `json:"layers"`
	History     []string    `json:"history"`
	Current     int         `json:"current"`
}

// CreateDocumentRequest создание нового документа или открытие сохраненного
type CreateDocumentRequest struct {
	Name string `json:"name" binding:"required"`
	Open bool   `json:"open"`
}

// TerrainRequest добавление процедурного слоя рельефа
type TerrainRequest struct {
	Name   string                `json:"name" binding:"required"`
	Params procgen.TerrainParams `json:"params"`
}

// fmtKey ключи выводятся строкой: JSON-числа теряют точность uint64
func fmtKey(k uint64) string { return fmt.Sprintf("%016x", k) }

func summarize(d *editor.Document) DocumentSummary {
	return DocumentSummary{
		ID:    d.ID().String(),
		Name:  d.Name(),
		Key:   fmtKey(d.Key()),
		Dirty: d.IsDirty(),
	}
}

// withDocument находит документ по :id и передает его обработчику
func (rs *RestServer) withDocument(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			fail(c, http.StatusBadRequest, "Неверный ID документа")
			return
		}
		d, err := rs.editor.Document(id)
		if err != nil {
			fail(c, http.StatusNotFound, "Документ не найден")
			return
		}
		c.Set(documentKey, d)
		h(c)
	}
}

func document(c *gin.Context) *editor.Document {
	return c.MustGet(documentKey).(*editor.Document)
}

// handleListDocuments возвращает открытые документы
func (rs *RestServer) handleListDocuments(c *gin.Context) {
	docs := rs.editor.Documents()
	out := make([]DocumentSummary, len(docs))
	for i, d := range docs {
		out[i] = summarize(d)
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список документов",
		Data: map[string]interface{}{
			"documents": out,
			"total":     len(out),
		},
	})
}

// handleCreateDocument создает документ или открывает сохраненный
func (rs *RestServer) handleCreateDocument(c *gin.Context) {
	var req CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}

	var (
		d   *editor.Document
		err error
	)
	if req.Open {
		d, err = rs.editor.Open(c.Request.Context(), req.Name)
	} else {
		d, err = rs.editor.NewDocument(c.Request.Context(), req.Name)
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fail(c, http.StatusNotFound, "Проект не найден")
		return
	case errors.Is(err, editor.ErrNoStore):
		fail(c, http.StatusServiceUnavailable, "Хранилище не настроено")
		return
	case err != nil:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, "Ошибка открытия документа")
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Документ открыт",
		Data:    summarize(d),
	})
}

// handleGetDocument возвращает слои, ключи и историю документа
func (rs *RestServer) handleGetDocument(c *gin.Context) {
	d := document(c)
	info := DocumentInfo{DocumentSummary: summarize(d)}
	info.History, info.Current = d.Labels()

	d.View(func(s *scene.Scene) {
		if l := s.ActiveLayer(); l != nil {
			info.ActiveLayer = int(l.ID())
		}
		for _, l := range s.Layers() {
			li := LayerInfo{
				ID:      int(l.ID()),
				Name:    l.Name(),
				Kind:    l.Kind().String(),
				Mode:    l.Mode().String(),
				Visible: l.Visible(),
				BaseID:  int(l.BaseID()),
				Key:     fmtKey(l.Key()),
			}
			if v := l.Volume(); v != nil {
				li.Blocks = v.Len()
			}
			info.Layers = append(info.Layers, li)
		}
	})

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Документ",
		Data:    info,
	})
}

// handleCloseDocument закрывает документ без сохранения
func (rs *RestServer) handleCloseDocument(c *gin.Context) {
	d := document(c)
	if err := rs.editor.CloseDocument(c.Request.Context(), d.ID()); err != nil {
		fail(c, http.StatusNotFound, "Документ не найден")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Документ закрыт"})
}

// handleDocumentStats возвращает сводку по видимому результату
func (rs *RestServer) handleDocumentStats(c *gin.Context) {
	st, err := document(c).Stats(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, "Ошибка композиции")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика документа",
		Data: map[string]interface{}{
			"blocks": st.Blocks,
			"voxels": st.Voxels,
			"bounds": st.Bounds,
			"key":    fmtKey(st.Key),
			"errors": st.Errors,
		},
	})
}

func (rs *RestServer) handleUndo(c *gin.Context) {
	d := document(c)
	rs.historyStep(c, d, d.Undo(c.Request.Context()))
}

func (rs *RestServer) handleRedo(c *gin.Context) {
	d := document(c)
	rs.historyStep(c, d, d.Redo(c.Request.Context()))
}

// historyStep отвечает на undo/redo. Пустая история не ошибка:
// changed == false.
func (rs *RestServer) historyStep(c *gin.Context, d *editor.Document, changed bool) {
	_, cur := d.Labels()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "История",
		Data: map[string]interface{}{
			"changed": changed,
			"current": cur,
			"key":     fmtKey(d.Key()),
		},
	})
}

// handleSave сохраняет документ в хранилище
func (rs *RestServer) handleSave(c *gin.Context) {
	info, err := document(c).Save(c.Request.Context())
	if errors.Is(err, editor.ErrNoStore) {
		fail(c, http.StatusServiceUnavailable, "Хранилище не настроено")
		return
	}
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, "Ошибка сохранения")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Документ сохранен",
		Data:    info,
	})
}

// handleAddTerrain генерирует рельеф в новом слое
func (rs *RestServer) handleAddTerrain(c *gin.Context) {
	var req TerrainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	l, err := document(c).AddTerrain(c.Request.Context(), req.Name, req.Params)
	switch {
	case errors.Is(err, procgen.ErrInvalidParams):
		fail(c, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, editor.ErrStrokeActive):
		fail(c, http.StatusConflict, "Инструмент уже применяется")
		return
	case err != nil:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, "Ошибка генерации")
		return
	}
	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Слой добавлен",
		Data:    LayerInfo{ID: int(l.ID()), Name: l.Name(), Kind: l.Kind().String(), Mode: l.Mode().String(), Visible: l.Visible(), Key: fmtKey(l.Key())},
	})
}

// handleFitCamera наводит активную камеру на содержимое документа
func (rs *RestServer) handleFitCamera(c *gin.Context) {
	d := document(c)
	box, err := d.FitCamera(c.Request.Context())
	switch {
	case errors.Is(err, editor.ErrStrokeActive):
		fail(c, http.StatusConflict, "Инструмент уже применяется")
		return
	case errors.Is(err, scene.ErrCameraNotFound):
		fail(c, http.StatusNotFound, "Нет активной камеры")
		return
	case err != nil:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, "Ошибка камеры")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Камера наведена",
		Data: map[string]interface{}{
			"box": box,
			"key": fmtKey(d.Key()),
		},
	})
}

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/voxedit/internal/editor"
	"github.com/annel0/voxedit/internal/logging"
	"github.com/annel0/voxedit/internal/middleware"
)

// RestServer представляет REST API сервер для просмотра и управления документами
type RestServer struct {
	router     *gin.Engine
	editor     *editor.Editor
	port       string
	status     *statusReporter
	logger     *logging.Logger
	httpServer *http.Server
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port     string           // адрес для запуска сервера, например ":8088"
	Editor   *editor.Editor   // редактор с открытыми документами
	Registry RegistryGatherer // реестр метрик; nil: глобальный
}

// RegistryGatherer реестр Prometheus, в который пишут и из которого читают
type RegistryGatherer interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8088"
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware("voxedit_api"))
	router.Use(middleware.NewRequestLogger(nil).Handler())

	var reg prometheus.Registerer
	var gatherer prometheus.Gatherer
	if config.Registry != nil {
		reg, gatherer = config.Registry, config.Registry
	}
	promMw := middleware.NewPrometheusMiddleware("voxedit_api", reg)
	router.Use(promMw.Handler())
	// маршрут получает только middleware, подключенные до его регистрации
	router.Use(corsMiddleware())
	promMw.RegisterMetricsEndpoint(router, gatherer)

	server := &RestServer{
		router:  router,
		editor:  config.Editor,
		port:    config.Port,
		status:  newStatusReporter(),
		logger:  logging.GetComponentLogger("api"),
	}

	server.setupRoutes()
	return server
}

// corsMiddleware разрешает запросы из браузерных клиентов
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	api := rs.router.Group("/api")
	{
		api.GET("/server", rs.handleServerInfo)

		docs := api.Group("/documents")
		docs.GET("", rs.handleListDocuments)
		docs.POST("", rs.handleCreateDocument)
		docs.GET("/:id", rs.withDocument(rs.handleGetDocument))
		docs.DELETE("/:id", rs.withDocument(rs.handleCloseDocument))
		docs.GET("/:id/stats", rs.withDocument(rs.handleDocumentStats))
		docs.POST("/:id/undo", rs.withDocument(rs.handleUndo))
		docs.POST("/:id/redo", rs.withDocument(rs.handleRedo))
		docs.POST("/:id/save", rs.withDocument(rs.handleSave))
		docs.POST("/:id/terrain", rs.withDocument(rs.handleAddTerrain))
		docs.POST("/:id/camera/fit", rs.withDocument(rs.handleFitCamera))
	}

	rs.router.GET("/health", rs.handleHealth)
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, GenericResponse{Success: false, Message: msg})
}

// handleServerInfo возвращает состояние процесса, пула блоков и документов
func (rs *RestServer) handleServerInfo(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Информация о сервере",
		Data:    rs.status.Collect(rs.editor),
	})
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// Handler возвращает http.Handler сервера (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start запускает REST сервер в отдельной горутине
func (rs *RestServer) Start() error {
	rs.httpServer = &http.Server{
		Addr:              rs.port,
		Handler:           rs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := rs.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rs.logger.Error("Ошибка REST API сервера: %v", err)
		}
	}()

	rs.logger.Info("REST API сервер запущен на http://localhost%s", rs.port)
	return nil
}

// Shutdown останавливает сервер, дожидаясь завершения текущих запросов
func (rs *RestServer) Shutdown(ctx context.Context) error {
	if rs.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := rs.httpServer.Shutdown(ctx); err != nil {
		rs.logger.Error("Ошибка при остановке HTTP сервера: %v", err)
		return err
	}
	rs.logger.Info("REST API сервер остановлен")
	return nil
}

// Package api - служебный HTTP-интерфейс движка: метаданные таблиц, кэши,
// принудительное сохранение и чтение строк.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/spacemonkeygo/monkit/v3/present"
	"go.uber.org/zap"

	"realmdb/internal/orm"
)

// NewRouter собирает маршруты над движком e.
func NewRouter(log *zap.Logger, e *orm.Engine) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(log))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/meta", MetaListHandler(e))
		apiGroup.GET("/meta/:table", MetaTableHandler(e))
		apiGroup.GET("/lint", LintHandler(e))

		apiGroup.GET("/cache", CacheStatsHandler(e))
		apiGroup.POST("/cache/:table/reload", CacheReloadHandler(e))
		apiGroup.POST("/cache/:table/:key/refresh", CacheRefreshHandler(e))

		apiGroup.POST("/save", SaveHandler(e))

		// служебные маршруты - раньше :key
		apiGroup.GET("/rows/:table/_count", CountHandler(e))
		apiGroup.GET("/rows/:table", ListHandler(e))
		apiGroup.GET("/rows/:table/:key", GetOneHandler(e))
	}

	mon := http.StripPrefix("/debug/monkit", present.HTTP(monkit.Default))
	r.Any("/debug/monkit/*path", gin.WrapH(mon))
	return r
}

func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

// Serve отдаёт handler на addr до отмены ctx.
func Serve(ctx context.Context, log *zap.Logger, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info("admin API listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

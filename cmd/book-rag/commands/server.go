package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/book-rag/internal/infra/pdf"
	"github.com/jinford/book-rag/internal/interface/httpserver"
)

// ServerStartAction はHTTPサーバを起動するコマンドのアクション
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	// インデックス未作成で既定のPDFが設定されていれば起動時に1回だけインジェストする
	// 失敗してもサーバは起動する（後からアップロードで再試行できる）
	if !appCtx.Store.Exists() && appCtx.Config.DefaultBookPDFPath != "" {
		if pdf.IsPDFPath(appCtx.Config.DefaultBookPDFPath) {
			if _, err := appCtx.Ingestion.Ingest(ctx, appCtx.Config.DefaultBookPDFPath); err != nil {
				appCtx.Logger.Warn("startup auto-indexing failed",
					"path", appCtx.Config.DefaultBookPDFPath,
					"error", err,
				)
			}
		}
	}

	if err := appCtx.Manager.Reload(); err != nil {
		return err
	}

	srv := httpserver.New(
		appCtx.Ingestion,
		appCtx.Retrieval,
		appCtx.Manager,
		appCtx.Jobs,
		appCtx.Config.DataDir,
		httpserver.WithLogger(appCtx.Logger),
	)

	port := int(cmd.Int("port"))
	if port == 0 {
		port = appCtx.Config.HTTP.Port
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appCtx.Logger.Info("HTTP server listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

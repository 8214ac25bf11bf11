package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/book-rag/internal/core/jobs"
)

// IngestAction はローカルPDFをインデックス化するコマンドのアクション
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	pdfPath := cmd.String("pdf")
	if appCtx.Store.Exists() && !cmd.Bool("force") {
		return fmt.Errorf("a book is already indexed: use --force to replace it")
	}

	jobID := uuid.New().String()
	if err := appCtx.Jobs.Set(ctx, jobID, jobs.StatusRunning, "Indexing started"); err != nil {
		return err
	}

	result, err := appCtx.Ingestion.Ingest(ctx, pdfPath)
	if err != nil {
		_ = appCtx.Jobs.Set(ctx, jobID, jobs.StatusFailed, err.Error())
		return err
	}

	detail := fmt.Sprintf("Indexed %d pages into %d chunks.", result.PageCount, result.ChunkCount)
	if err := appCtx.Jobs.Set(ctx, jobID, jobs.StatusCompleted, detail); err != nil {
		return err
	}

	fmt.Printf("job: %s\n", jobID)
	fmt.Printf("pages: %d\n", result.PageCount)
	fmt.Printf("chunks: %d\n", result.ChunkCount)
	fmt.Printf("book: %s\n", result.BookPath)
	return nil
}

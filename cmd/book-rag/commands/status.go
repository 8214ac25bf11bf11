package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// StatusAction はジョブの進行状況を表示するコマンドのアクション
func StatusAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	rec, err := appCtx.Jobs.Get(ctx, cmd.String("job-id"))
	if err != nil {
		return err
	}

	fmt.Printf("job: %s\n", rec.JobID)
	fmt.Printf("status: %s\n", rec.Status)
	fmt.Printf("detail: %s\n", rec.Detail)
	fmt.Printf("updated: %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}

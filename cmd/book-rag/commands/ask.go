package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// AskAction は書籍への質問応答を実行するコマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Manager.Reload(); err != nil {
		return err
	}

	result, err := appCtx.Retrieval.Ask(ctx, cmd.String("question"), int(cmd.Int("top-k")))
	if err != nil {
		return err
	}

	fmt.Printf("answer: %s\n", result.Answer)
	fmt.Printf("confidence: %.3f\n", result.Confidence)
	for _, src := range result.Sources {
		fmt.Printf("  [page %d] (%.3f) %s\n", src.Page, src.Confidence, src.Snippet)
	}
	return nil
}

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/book-rag/cmd/book-rag/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "book-rag",
		Usage: "1冊のPDFに根拠を限定した質問応答システム",
		Commands: []*cli.Command{
			{
				Name:  "ingest",
				Usage: "PDFをインデックス化（既存の世代を丸ごと置き換え）",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "pdf",
						Usage:    "インデックス化するPDFのパス",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "既にインデックスがある場合も置き換える",
					},
				},
				Action: commands.IngestAction,
			},
			{
				Name:  "ask",
				Usage: "インデックス済みの書籍に質問する",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "question",
						Usage:    "質問文",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "検索候補の件数（省略時は設定値）",
					},
				},
				Action: commands.AskAction,
			},
			{
				Name:  "status",
				Usage: "インジェストジョブの進行状況を表示",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "job-id",
						Usage:    "ジョブID",
						Required: true,
					},
				},
				Action: commands.StatusAction,
			},
			{
				Name:  "server",
				Usage: "サーバ関連コマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTPサーバを起動",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.IntFlag{
								Name:  "port",
								Usage: "HTTPポート（省略時は環境変数またはデフォルトの8080）",
							},
						},
						Action: commands.ServerStartAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

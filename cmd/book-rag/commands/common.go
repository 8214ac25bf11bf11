package commands

import (
	"log/slog"

	"github.com/jinford/book-rag/internal/core/index"
	"github.com/jinford/book-rag/internal/core/ingestion"
	"github.com/jinford/book-rag/internal/core/retrieval"
	"github.com/jinford/book-rag/internal/infra/openai"
	"github.com/jinford/book-rag/internal/infra/pdf"
	"github.com/jinford/book-rag/internal/infra/sqlite"
	"github.com/jinford/book-rag/internal/platform/config"
	"github.com/jinford/book-rag/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     *index.Store
	Manager   *index.Manager
	Embedder  *openai.Embedder
	Ingestion *ingestion.Service
	Retrieval *retrieval.Service
	Jobs      *sqlite.JobStore
}

// NewAppContext は設定を読み込み、各サービスを組み立てて AppContext を作成する
func NewAppContext(envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: "json",
	})

	store, err := index.NewStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	manager := index.NewManager(store, cfg.OpenAI.EmbeddingDimension)

	embedder := openai.NewEmbedder(cfg.OpenAI.APIKey,
		openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
		openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
		openai.WithBatchSize(cfg.RAG.EmbeddingBatchSize),
		openai.WithRequestsPerSecond(cfg.RAG.EmbeddingRequestsPerSecond),
	)

	completion, err := openai.NewCompletionClient(cfg.OpenAI.APIKey,
		openai.WithChatModel(cfg.OpenAI.ChatModel),
	)
	if err != nil {
		return nil, err
	}

	ingestSvc := ingestion.NewService(store, pdf.NewOpener(), embedder,
		ingestion.WithChunkSizeWords(cfg.RAG.ChunkSizeWords),
		ingestion.WithEmbeddingBatchSize(cfg.RAG.EmbeddingBatchSize),
		ingestion.WithLogger(appLogger),
	)

	promptOpts := []retrieval.PromptBuilderOption{
		retrieval.WithPromptLogger(appLogger),
	}
	if counter, err := openai.NewTokenCounter(); err != nil {
		// トークンカウンタが用意できなくてもコンテキスト上限なしで続行できる
		appLogger.Warn("token counter unavailable, context budget disabled", "error", err)
	} else {
		promptOpts = append(promptOpts, retrieval.WithTokenBudget(counter, cfg.RAG.MaxContextTokens))
	}

	retrievalSvc := retrieval.NewService(manager, embedder, completion,
		retrieval.WithTopK(cfg.RAG.TopK),
		retrieval.WithMinConfidence(cfg.RAG.MinConfidence),
		retrieval.WithPromptBuilder(retrieval.NewPromptBuilder(promptOpts...)),
		retrieval.WithServiceLogger(appLogger),
	)

	jobStore, err := sqlite.NewJobStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	return &AppContext{
		Config:    cfg,
		Logger:    appLogger,
		Store:     store,
		Manager:   manager,
		Embedder:  embedder,
		Ingestion: ingestSvc,
		Retrieval: retrievalSvc,
		Jobs:      jobStore,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Jobs != nil {
		_ = ac.Jobs.Close()
	}
}

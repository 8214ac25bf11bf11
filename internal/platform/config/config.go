package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// OpenAI API設定
	OpenAI OpenAIConfig

	// 検索・インデックス設定
	RAG RAGConfig

	// HTTPサーバ設定
	HTTP HTTPConfig

	// DataDir はインデックス・メタデータ・ジョブDBの格納先ディレクトリ
	DataDir string

	// DefaultBookPDFPath は起動時に自動インデックスするPDFのパス（省略可）
	DefaultBookPDFPath string

	// LogLevel はログレベル（debug/info/warn/error）
	LogLevel string
}

// OpenAIConfig はOpenAI API設定（Embeddings + Chat）
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	ChatModel          string
}

// RAGConfig はチャンク分割・検索の設定
type RAGConfig struct {
	// ChunkSizeWords は1チャンクあたりの最大単語数
	ChunkSizeWords int

	// EmbeddingBatchSize は1回のEmbedding API呼び出しに含める最大テキスト数
	EmbeddingBatchSize int

	// EmbeddingRequestsPerSecond はEmbedding API呼び出しのレート上限
	EmbeddingRequestsPerSecond float64

	// TopK は検索候補のデフォルト件数
	TopK int

	// MinConfidence は回答を試みる最低確信度
	MinConfidence float64

	// MaxContextTokens はプロンプトに含めるコンテキストのトークン上限
	MaxContextTokens int
}

// HTTPConfig はHTTPサーバ設定
type HTTPConfig struct {
	Port int
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			ChatModel:          getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		},
		RAG: RAGConfig{
			ChunkSizeWords:             getEnvAsInt("CHUNK_SIZE_WORDS", 500),
			EmbeddingBatchSize:         getEnvAsInt("EMBEDDING_BATCH_SIZE", 128),
			EmbeddingRequestsPerSecond: getEnvAsFloat("EMBEDDING_REQUESTS_PER_SECOND", 4),
			TopK:                       getEnvAsInt("TOP_K", 5),
			MinConfidence:              getEnvAsFloat("MIN_CONFIDENCE", 0.35),
			MaxContextTokens:           getEnvAsInt("MAX_CONTEXT_TOKENS", 6000),
		},
		HTTP: HTTPConfig{
			Port: getEnvAsInt("HTTP_PORT", 8080),
		},
		DataDir:            getEnv("DATA_DIR", "/var/lib/book-rag"),
		DefaultBookPDFPath: getEnv("DEFAULT_BOOK_PDF_PATH", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}

	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/hitoshi/relwatch/internal/model"
)

const (
	// defaultModel は要約に使用するデフォルトのモデル名。
	defaultModel = "gpt-4o-mini"
	// maxBodyLength はプロンプトに含めるリリースノート本文の最大文字数。
	// 長大なリリースノートでトークン上限を超えないよう切り詰める。
	maxBodyLength = 16000
	// requestTimeout はLLM呼び出しのタイムアウト。
	requestTimeout = 2 * time.Minute
)

const systemPrompt = `あなたはソフトウェアのリリースノートを要約するアシスタントです。
与えられたリリースノートを読み、以下のJSONオブジェクトのみを出力してください。
マークダウンのコードフェンスや説明文は含めないでください。

{
  "summary": "リリース全体の1〜2文の要約",
  "items": [
    {"text": "変更点の短い説明", "link_title": "関連リンクのタイトル（なければ空文字）", "link_url": "関連リンクのURL（なければ空文字）"}
  ]
}

itemsは重要な変更点を最大10件まで。破壊的変更とセキュリティ修正を優先してください。`

// OpenAIConfig はOpenAIServiceの設定パラメータ。
type OpenAIConfig struct {
	// APIKey はOpenAI APIキー。
	APIKey string
	// BaseURL はAPIエンドポイント。空の場合はOpenAIの既定値を使用する。
	// OpenAI互換API（ローカルLLM等）への差し替えに使用できる。
	BaseURL string
	// Model は使用するモデル名。空の場合はデフォルト値を使用する。
	Model string
}

// OpenAIService はOpenAI Chat Completions APIを使用するService実装。
type OpenAIService struct {
	client openai.Client
	logger *slog.Logger
	model  string
}

// NewOpenAIService はOpenAIServiceの新しいインスタンスを生成する。
func NewOpenAIService(logger *slog.Logger, config OpenAIConfig) *OpenAIService {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	m := config.Model
	if m == "" {
		m = defaultModel
	}

	return &OpenAIService{
		client: openai.NewClient(opts...),
		logger: logger,
		model:  m,
	}
}

// Summarize はリリースノート本文を要約する。
func (s *OpenAIService) Summarize(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	timeoutCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	completion, err := s.client.Chat.Completions.New(timeoutCtx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildUserPrompt(req)),
		},
		Model: s.model,
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("LLMが選択肢を返しませんでした: %w", model.ErrSummarizerUnavailable)
	}

	message := completion.Choices[0].Message
	if message.Refusal != "" {
		return nil, fmt.Errorf("LLMが要約を拒否しました (%s): %w", message.Refusal, model.ErrSummarizerRejected)
	}

	result, err := parseResult(message.Content)
	if err != nil {
		s.logger.Warn("LLM出力のパースに失敗しました",
			slog.String("repo", req.RepoFullName),
			slog.String("release_name", req.ReleaseName),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Info("リリースノートを要約しました",
		slog.String("repo", req.RepoFullName),
		slog.String("release_name", req.ReleaseName),
		slog.Int("item_count", len(result.Items)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return result, nil
}

// buildUserPrompt は要約対象のリリース情報からユーザープロンプトを組み立てる。
func buildUserPrompt(req Request) string {
	body := req.Body
	if len(body) > maxBodyLength {
		// マルチバイト文字の途中で切らないよう、rune境界まで戻して切り詰める
		cut := maxBodyLength
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "リポジトリ: %s\n", req.RepoFullName)
	fmt.Fprintf(&b, "リリース名: %s\n", req.ReleaseName)
	if req.HTMLURL != "" {
		fmt.Fprintf(&b, "リリースURL: %s\n", req.HTMLURL)
	}
	fmt.Fprintf(&b, "\nリリースノート:\n%s\n", body)
	return b.String()
}

// resultPayload はLLM出力のデコード用構造体。
type resultPayload struct {
	Summary string              `json:"summary"`
	Items   []model.SummaryItem `json:"items"`
}

// parseResult はLLM出力のJSONをResultにパースする。
// モデルが指示に反してコードフェンスで囲んだ場合も受理する。
// パース失敗は再試行で解消し得るためErrSummarizerUnavailableとして扱う。
func parseResult(content string) (*Result, error) {
	trimmed := stripCodeFence(strings.TrimSpace(content))
	if trimmed == "" {
		return nil, fmt.Errorf("LLM出力が空です: %w", model.ErrSummarizerRejected)
	}

	var payload resultPayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, fmt.Errorf("LLM出力のパースに失敗しました: %w", model.ErrSummarizerUnavailable)
	}

	if strings.TrimSpace(payload.Summary) == "" {
		return nil, fmt.Errorf("LLM出力にsummaryが含まれていません: %w", model.ErrSummarizerUnavailable)
	}

	return &Result{
		Summary: strings.TrimSpace(payload.Summary),
		Items:   payload.Items,
	}, nil
}

// stripCodeFence はマークダウンのコードフェンスを除去する。
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// classifyAPIError はOpenAI APIのエラーをエラー分類にマッピングする。
// 429・5xx・通信エラーは一時的、コンテンツ起因の4xxは恒久的とする。
func classifyAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("LLM APIのレート制限を超過しました: %w", model.ErrSummarizerUnavailable)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("LLM APIがステータス %d を返しました: %w", apiErr.StatusCode, model.ErrSummarizerUnavailable)
		case apiErr.StatusCode >= 400:
			return fmt.Errorf("LLM APIがリクエストを拒否しました (ステータス %d): %w", apiErr.StatusCode, model.ErrSummarizerRejected)
		}
	}
	return fmt.Errorf("LLM APIの呼び出しに失敗しました: %w", model.ErrSummarizerUnavailable)
}

// compile-time interface check
var _ Service = (*OpenAIService)(nil)

package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/relwatch/internal/config"
	"github.com/hitoshi/relwatch/internal/database"
	"github.com/hitoshi/relwatch/internal/github"
	"github.com/hitoshi/relwatch/internal/handler"
	"github.com/hitoshi/relwatch/internal/logger"
	"github.com/hitoshi/relwatch/internal/metrics"
	"github.com/hitoshi/relwatch/internal/queue"
	"github.com/hitoshi/relwatch/internal/repository"
	"github.com/hitoshi/relwatch/internal/security"
	"github.com/hitoshi/relwatch/internal/summarizer"
	"github.com/hitoshi/relwatch/internal/worker/analyze"
	"github.com/hitoshi/relwatch/internal/worker/cleanup"
	"github.com/hitoshi/relwatch/internal/worker/detect"
	"github.com/hitoshi/relwatch/internal/worker/enqueue"
	"github.com/hitoshi/relwatch/internal/worker/notify"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandDetect:
		return runDetect(cfg)
	case CommandEnqueue:
		return runEnqueue(cfg)
	case CommandNotify:
		return runNotify(cfg)
	default:
		return runWorker(cfg)
	}
}

// deps はワイヤリング済みの依存関係一式。
type deps struct {
	db *sql.DB

	feedRepo         *repository.PostgresFeedRepo
	feedLogRepo      *repository.PostgresFeedLogRepo
	dataSourceRepo   *repository.PostgresDataSourceRepo
	notificationRepo *repository.PostgresNotificationRepo
	settingRepo      *repository.PostgresSystemSettingRepo
	userRepo         *repository.PostgresUserRepo

	registry  *prometheus.Registry
	collector *metrics.Collector
	finder    github.ReleaseFinder
	queue     *queue.PostgresQueue
	sanitizer security.ReleaseSanitizerService
}

// buildDeps はDB接続を開き、全モードで共通の依存関係をワイヤリングする。
// 呼び出し側はdb.Close()の責任を負う。
func buildDeps(cfg *config.Config) (*deps, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	guard := security.NewEndpointGuard()
	if cfg.GitHubAPIBaseURL != "" {
		if err := guard.ValidateURL(cfg.GitHubAPIBaseURL); err != nil {
			db.Close()
			return nil, fmt.Errorf("GITHUB_API_BASE_URL の検証に失敗しました: %w", err)
		}
	}
	if cfg.OpenAIBaseURL != "" {
		if err := guard.ValidateURL(cfg.OpenAIBaseURL); err != nil {
			db.Close()
			return nil, fmt.Errorf("OPENAI_BASE_URL の検証に失敗しました: %w", err)
		}
	}

	registry := prometheus.NewRegistry()

	d := &deps{
		db: db,

		feedRepo:         repository.NewPostgresFeedRepo(db),
		feedLogRepo:      repository.NewPostgresFeedLogRepo(db),
		dataSourceRepo:   repository.NewPostgresDataSourceRepo(db),
		notificationRepo: repository.NewPostgresNotificationRepo(db),
		settingRepo:      repository.NewPostgresSystemSettingRepo(db),
		userRepo:         repository.NewPostgresUserRepo(db),

		registry:  registry,
		collector: metrics.NewCollector(registry),
		finder:    buildFinder(cfg, guard),
		queue:     queue.NewPostgresQueue(db, cfg.QueueLease),
		sanitizer: security.NewReleaseSanitizer(),
	}
	return d, nil
}

// buildFinder はGitHubリリース取得の実装を選択する。
// トークンが設定されている場合はREST APIクライアント、
// 未設定の場合は認証不要のAtomフィードフォールバックを使用する。
func buildFinder(cfg *config.Config, guard security.EndpointGuardService) github.ReleaseFinder {
	httpClient := guard.NewSafeClient(cfg.GitHubTimeout)

	if cfg.GitHubToken == "" {
		slog.Info("GITHUB_TOKEN is not set, falling back to Atom feeds")
		return github.NewAtomFinder(httpClient, slog.Default())
	}

	return github.NewClient(httpClient, slog.Default(), github.ClientConfig{
		BaseURL:           cfg.GitHubAPIBaseURL,
		Token:             cfg.GitHubToken,
		RequestsPerSecond: cfg.GitHubRPS,
	})
}

// runWorker はワーカーモードで起動する。
// 検出スケジューラ、キュー投入スイーパー、解析コンシューマー、回収ジョブ、
// 通知集約、クリーンアップジョブ、運用HTTPサーバーをすべて起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.OpenAIAPIKey == "" {
		return fmt.Errorf("required environment variables are not set: [OPENAI_API_KEY]")
	}

	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.db.Close()

	// 解析パイプラインの初期化
	summarizerSvc := summarizer.NewOpenAIService(slog.Default(), summarizer.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})

	detector := detect.NewDetector(
		d.feedRepo, d.feedLogRepo, d.dataSourceRepo, d.finder, d.collector, slog.Default(),
	)
	scheduler := detect.NewScheduler(
		d.feedRepo, detector, slog.Default(), cfg.DetectMaxConcurrent,
	)

	sweeper := enqueue.NewSweeper(
		d.feedLogRepo, d.queue, d.collector, slog.Default(), cfg.EnqueueBatchLimit,
	)

	analyzer := analyze.NewAnalyzer(
		d.feedLogRepo, d.feedRepo, d.dataSourceRepo, d.finder,
		d.sanitizer, summarizerSvc, d.collector, slog.Default(),
	)
	consumer := analyze.NewConsumer(
		d.queue, analyzer, d.collector, slog.Default(), cfg.AnalyzeWorkers,
	)
	reclaimer := analyze.NewReclaimer(
		d.feedLogRepo, d.collector, slog.Default(), cfg.StuckAge,
	)

	aggregator := notify.NewAggregator(
		d.feedLogRepo, d.notificationRepo, d.settingRepo, d.userRepo, d.collector, slog.Default(),
	)

	cleanupJob := cleanup.NewCleanupJob(d.db, slog.Default())
	if cfg.RetentionDays > 0 {
		cleanupJob.RetentionDays = cfg.RetentionDays
	}

	// 運用HTTPサーバー（ヘルスチェックとメトリクス）
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(d.db, d.registry, slog.Default()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	go func() {
		slog.Info("ops server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("detect_interval", cfg.DetectInterval),
		slog.Duration("enqueue_interval", cfg.EnqueueInterval),
		slog.Int("analyze_workers", cfg.AnalyzeWorkers),
	)

	// 各バックグラウンドジョブを起動
	go scheduler.Start(ctx, cfg.DetectInterval)
	go sweeper.Start(ctx, cfg.EnqueueInterval)
	go reclaimer.Start(ctx, cfg.ReclaimInterval)
	go aggregator.Start(ctx, cfg.NotifyInterval)

	// クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// 解析コンシューマーをメインgoroutineで実行（ブロッキング）
	consumer.Start(ctx)

	// シャットダウン時は運用サーバーも停止する
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runDetect はリリース検出サイクルを1回だけ実行して終了する。
// cronやCIからの手動トリガー用サブコマンド。
func runDetect(cfg *config.Config) error {
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.db.Close()

	detector := detect.NewDetector(
		d.feedRepo, d.feedLogRepo, d.dataSourceRepo, d.finder, d.collector, slog.Default(),
	)
	scheduler := detect.NewScheduler(
		d.feedRepo, detector, slog.Default(), cfg.DetectMaxConcurrent,
	)

	return scheduler.RunOnce(context.Background())
}

// runEnqueue はキュー投入スイープを1回だけ実行して終了する。
func runEnqueue(cfg *config.Config) error {
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.db.Close()

	sweeper := enqueue.NewSweeper(
		d.feedLogRepo, d.queue, d.collector, slog.Default(), cfg.EnqueueBatchLimit,
	)

	return sweeper.RunOnce(context.Background())
}

// runNotify は通知集約を1回だけ実行して終了する。
func runNotify(cfg *config.Config) error {
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.db.Close()

	aggregator := notify.NewAggregator(
		d.feedLogRepo, d.notificationRepo, d.settingRepo, d.userRepo, d.collector, slog.Default(),
	)

	return aggregator.RunOnce(context.Background())
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

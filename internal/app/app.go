// Package app はアプリケーションの初期化・ワイヤリング・起動を提供する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/newsdesk/internal/cache"
	"github.com/hitoshi/newsdesk/internal/config"
	"github.com/hitoshi/newsdesk/internal/database"
	"github.com/hitoshi/newsdesk/internal/feed"
	"github.com/hitoshi/newsdesk/internal/handler"
	"github.com/hitoshi/newsdesk/internal/loader"
	"github.com/hitoshi/newsdesk/internal/logger"
	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/offline"
	"github.com/hitoshi/newsdesk/internal/render"
	"github.com/hitoshi/newsdesk/internal/section"
	"github.com/hitoshi/newsdesk/internal/security"
	"github.com/hitoshi/newsdesk/internal/translate"
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
		slog.String("cache_version", cfg.AssetCacheVersion),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// pipeline は集約パイプラインの全コンポーネントをまとめた構造体。
type pipeline struct {
	loader    *loader.Loader
	scheduler *loader.Scheduler
	manager   *offline.Manager
	db        *sql.DB
}

// buildPipeline は集約パイプラインをワイヤリングする。
// collectorにはserveモードでPrometheusコレクター、workerモードでNoopを渡す。
func buildPipeline(cfg *config.Config, db *sql.DB, collector metrics.MetricsCollector) (*pipeline, error) {
	log := slog.Default()

	// セクション構成の読み込み
	sections, err := config.LoadSections(cfg.SectionsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load sections: %w", err)
	}

	// オフラインキャッシュ層: 外向きHTTPは全てインターセプション
	// トランスポート経由で行い、ネットワーク障害時にキャッシュへ縮退する
	assetStore := offline.NewPostgresStore(db)
	transport := offline.NewTransport(
		nil, assetStore, cfg.AssetCacheVersion, originHost(cfg.BaseURL), log, collector,
	)
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.FetchTimeout,
	}

	// セキュリティサービス
	sanitizer := security.NewContentSanitizer()
	ssrfGuard := security.NewSSRFGuard()

	// 翻訳クライアント
	translator := translate.NewClient(
		httpClient, log, collector,
		cfg.TranslateEndpoint, cfg.TargetLang, cfg.TranslateRate,
	)

	// フィードフェッチャーとセクション集約。
	// 直接フェッチモードのSSRF検証済みクライアントにも同じ
	// インターセプション層を重ねるため、transportを渡す。
	fetcher := feed.NewFetcher(
		httpClient, translator, sanitizer, ssrfGuard, transport, log, collector,
		feed.Config{
			ProxyEndpoint:     cfg.ProxyEndpoint,
			TargetLang:        cfg.TargetLang,
			MaxItemsPerFeed:   cfg.MaxItemsPerFeed,
			DescriptionMaxLen: cfg.DescriptionMaxLen,
			Timeout:           cfg.FetchTimeout,
			MaxBodySize:       cfg.FetchMaxSize,
		},
	)
	aggregator := section.NewAggregator(fetcher, log, collector, cfg.FetchMaxConcurrent)

	// キャッシュ・表示境界・ローダー
	sectionCache := cache.NewPostgresSectionCache(db, log)
	renderer := render.NewSnapshotRenderer(log)
	ldr := loader.NewLoader(
		aggregator, sectionCache, renderer, log, collector,
		sections, cfg.CacheDuration,
	)

	// アセットキャッシュのライフサイクル管理
	manager := offline.NewManager(
		assetStore,
		&http.Client{Timeout: cfg.FetchTimeout},
		cfg.AssetCacheVersion, cfg.BaseURL, log,
	)

	return &pipeline{
		loader:    ldr,
		scheduler: loader.NewScheduler(ldr, log),
		manager:   manager,
		db:        db,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// 定期リフレッシュはworkerモードのプロセスが担当する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクスレジストリ
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. パイプラインのワイヤリング
	p, err := buildPipeline(cfg, db, collector)
	if err != nil {
		return err
	}

	// 4. ルーターの構築
	corsOrigin := cfg.CORSAllowedOrigin
	if corsOrigin == "" {
		corsOrigin = cfg.BaseURL
	}

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Limit(float64(cfg.RateLimitGeneral) / 60.0),
		Burst:           cfg.RateLimitGeneral,
		CleanupInterval: 5 * time.Minute,
	})
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Loader:            p.loader,
		DB:                db,
		CORSAllowedOrigin: corsOrigin,
		RateLimiter:       rateLimiter,
		MetricsHandler:    metrics.Handler(registry),
		WebRoot:           cfg.WebRoot,
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	// 6. アセットキャッシュのライフサイクル（Install → Activate）
	// 自サーバーの静的アセットをプリキャッシュするため、リッスン開始後に実行する
	// 定期リフレッシュはworkerプロセスが担当する。serveは
	// リクエスト駆動（キャッシュ優先＋?refresh=1）でのみ読み込む。
	go installAndActivate(ctx, p.manager, cfg.AssetManifest, time.Second)

	<-stop
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// assetLifecycle はアセットキャッシュのInstall/Activateを抽象化する。
type assetLifecycle interface {
	Install(ctx context.Context, manifest []string) error
	Activate(ctx context.Context) error
}

// installAndActivate はアセットキャッシュのInstall→Activateを実行する。
// サーバーのリッスン開始タイミングと競合するため、Installはdelayを
// 基準にした間隔で数回リトライする。Installが最終的に失敗しても
// Activateは必ず実行する: 旧バージョンの掃除はプリキャッシュの成否と
// 独立しており、失敗時はオフラインフォールバックが効かなくなるだけで
// サーバーの稼働は継続する。
func installAndActivate(ctx context.Context, lifecycle assetLifecycle, manifest []string, delay time.Duration) {
	const attempts = 5

	var err error
	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(i+1) * delay):
		}

		if err = lifecycle.Install(ctx, manifest); err == nil {
			break
		}
	}
	if err != nil {
		slog.Error("asset precache failed", slog.String("error", err.Error()))
	}

	if err := lifecycle.Activate(ctx); err != nil {
		slog.Error("asset cache activation failed", slog.String("error", err.Error()))
	}
}

// runWorker はワーカーモードで起動する。
// APIサーバーなしで集約パイプラインとリフレッシュスケジューラのみを動かす。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// ワーカーはスクレイプエンドポイントを持たないためメトリクスはNoop
	p, err := buildPipeline(cfg, db, metrics.Noop{})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("refresh_interval", cfg.RefreshInterval),
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
	)

	// リフレッシュスケジューラをメインgoroutineで実行（ブロッキング）
	p.scheduler.Start(ctx, cfg.RefreshInterval)

	slog.Info("worker stopped gracefully")
	return nil
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

// originHost はベースURLから自オリジン判定用のホスト部を抽出する。
func originHost(baseURL string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(u string) string {
	if len(u) > 20 {
		return u[:12] + "***@..."
	}
	return "***"
}

// compile-time interface check: ローダーはハンドラーの要求を満たす
var _ handler.LoaderService = (*loader.Loader)(nil)

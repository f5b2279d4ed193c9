// Package app はサブコマンドごとの依存関係の組み立てと起動を提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/linkbot/internal/command"
	"github.com/hitoshi/linkbot/internal/config"
	"github.com/hitoshi/linkbot/internal/database"
	"github.com/hitoshi/linkbot/internal/handler"
	"github.com/hitoshi/linkbot/internal/line"
	"github.com/hitoshi/linkbot/internal/liveness"
	"github.com/hitoshi/linkbot/internal/logger"
	"github.com/hitoshi/linkbot/internal/metrics"
	"github.com/hitoshi/linkbot/internal/model"
	"github.com/hitoshi/linkbot/internal/notify"
	"github.com/hitoshi/linkbot/internal/repository"
	"github.com/hitoshi/linkbot/internal/security"
	"github.com/hitoshi/linkbot/internal/worker/scan"
)

// lineAPITimeout はMessaging API呼び出し1回あたりのタイムアウト。
const lineAPITimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w, slog.LevelInfo)

	// 2. 設定を読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成する
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	if level != slog.LevelInfo {
		log = logger.SetupDefault(w, level)
	}

	return cfg, log, nil
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

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("notify_policy", string(cfg.NotifyPolicy)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg, log)
	case CommandCheck:
		return runCheck(ctx, cfg, log)
	case CommandMigrate:
		return runMigrate(ctx, cfg, log)
	default:
		return runServe(ctx, cfg, log)
	}
}

// components はサブコマンド間で共有する組み立て済みの依存関係。
type components struct {
	db       *sql.DB
	linkRepo repository.LinkRepository
	registry *prometheus.Registry
	metrics  *metrics.Collector
	checker  *liveness.Checker
	line     *line.Client
	scanner  *scan.Scanner
}

// build はDB接続を開き、リンクストア・死活チェッカー・LINEクライアント・スキャナを組み立てる。
// 呼び出し側はcomponents.db.Closeで接続を閉じる。
func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*components, error) {
	// 1. DB接続
	db, driver, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if driver == database.DriverSQLite {
		if err := database.EnsureSQLiteSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	log.Info("database connection established", slog.String("driver", string(driver)))

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. リポジトリ
	linkRepo := repository.NewLinkRepo(db, driver)

	// 4. 死活チェッカー（プライベートネットワーク遮断時はSSRF対策済みクライアントを使う）
	var checker *liveness.Checker
	if cfg.BlockPrivateNetworks {
		guard := security.NewSSRFGuard(cfg.CheckAllowedPorts...)
		checker = liveness.NewChecker(guard.NewSafeClient(cfg.CheckTimeout), guard, collector, log, cfg.CheckTimeout)
	} else {
		checker = liveness.NewChecker(&http.Client{Timeout: cfg.CheckTimeout}, nil, collector, log, cfg.CheckTimeout)
	}

	// 5. LINEクライアントと通知
	lineClient, err := line.NewClient(cfg.ChannelAccessToken, cfg.LineAPIEndpoint, &http.Client{Timeout: lineAPITimeout}, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	notifier := notify.NewNotifier(lineClient, cfg.PushRatePerSecond, collector, log)

	// 6. スキャナ
	scanner := scan.NewScanner(linkRepo, checker, notifier, collector, log, scan.Config{
		MaxConcurrency: cfg.ScanMaxConcurrent,
		Policy:         cfg.NotifyPolicy,
	})

	return &components{
		db:       db,
		linkRepo: linkRepo,
		registry: reg,
		metrics:  collector,
		checker:  checker,
		line:     lineClient,
		scanner:  scanner,
	}, nil
}

// newServer はWebhook・ヘルスチェック・メトリクスを提供するHTTPサーバーを組み立てる。
func newServer(cfg *config.Config, c *components, log *slog.Logger) *http.Server {
	cmdHandler := command.NewHandler(c.linkRepo, c.checker, c.metrics, log, command.Config{
		CheckOnSubmit: cfg.CheckOnSubmit,
	})

	dispatcher := line.NewDispatcher(log)
	dispatcher.Register(model.EventKindTextMessage, handler.NewTextMessageHandler(cmdHandler, c.line, log))
	if cfg.PurgeOnUnfollow {
		dispatcher.Register(model.EventKindUnfollow, handler.NewUnfollowHandler(c.linkRepo, log))
	}

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker: c.db,
		Parser:        line.NewWebhookParser(cfg.ChannelSecret),
		Dispatcher:    dispatcher,
		Gatherer:      c.registry,
		Logger:        log,
	})

	return &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// runServe はWebhookサーバーと定期スキャナを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	c, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.db.Close()

	server := newServer(cfg, c, log)

	scanCtx, cancelScan := context.WithCancel(ctx)
	defer cancelScan()
	scanDone := make(chan struct{})
	if cfg.ServeScanEnabled {
		go func() {
			defer close(scanDone)
			scan.NewScheduler(c.scanner, log).Start(scanCtx, cfg.ScanInterval)
		}()
	} else {
		log.Info("periodic scan disabled in serve mode")
		close(scanDone)
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("webhook server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down webhook server...")
	case err := <-serveErr:
		cancelScan()
		<-scanDone
		return fmt.Errorf("server listen error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	cancelScan()
	<-scanDone

	log.Info("webhook server stopped gracefully")
	return nil
}

// runWorker は定期スキャナのみを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	c, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.db.Close()

	log.Info("worker starting",
		slog.Duration("scan_interval", cfg.ScanInterval),
		slog.Int("max_concurrent", cfg.ScanMaxConcurrent),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scan.NewScheduler(c.scanner, log).Start(ctx, cfg.ScanInterval)

	log.Info("worker stopped gracefully")
	return nil
}

// runCheck はスキャンを1サイクルだけ実行して終了する。
func runCheck(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	c, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.db.Close()

	result, err := c.scanner.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	log.Info("scan completed",
		slog.Int("links", result.Total),
		slog.Int("dead", result.Dead),
		slog.Int("notified", result.Notified),
		slog.Int("failed", result.Failed),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// PostgreSQLでは未適用のマイグレーションを順番に適用し、SQLiteではスキーマを作成する。
func runMigrate(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
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

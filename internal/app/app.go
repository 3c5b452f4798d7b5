package app

import (
	"context"
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

	"github.com/hitoshi/questmirror/internal/config"
	"github.com/hitoshi/questmirror/internal/database"
	"github.com/hitoshi/questmirror/internal/handler"
	"github.com/hitoshi/questmirror/internal/logger"
	"github.com/hitoshi/questmirror/internal/metrics"
	"github.com/hitoshi/questmirror/internal/middleware"
	"github.com/hitoshi/questmirror/internal/model"
	"github.com/hitoshi/questmirror/internal/source/discord"
	"github.com/hitoshi/questmirror/internal/worker/cleanup"
	"github.com/hitoshi/questmirror/internal/worker/trigger"
)

// purgeInterval は削除済みメッセージのパージ間隔。
const purgeInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、設定を読み込んでログレベルを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, err
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
		slog.String("source", cfg.Source),
		slog.Any("channels", cfg.ChannelIDs),
		slog.String("output_dir", cfg.OutputDir),
	)

	switch cmd {
	case CommandRun:
		return runOnce(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runOnce はサイトを1回だけ再生成する。
// メッセージソースを利用できない場合は既存の出力を残したまま正常終了する。
func runOnce(cfg *config.Config) error {
	c, err := buildComponents(cfg, slog.Default(), metrics.Nop{})
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := c.mirror.Regenerate(ctx); err != nil {
		if errors.Is(err, model.ErrSourceUnavailable) {
			return nil
		}
		return fmt.Errorf("regenerate failed: %w", err)
	}
	return nil
}

// runServe は常駐モードで起動する。
// 起動直後に1回再生成し、その後はライブ更新・定期実行・手動要求で再生成する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	logger := slog.Default()

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 2. 依存関係の構築
	c, err := buildComponents(cfg, logger, collector)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 再生成トリガー（起動直後に1回実行）
	coalescer := trigger.New(func(ctx context.Context) error {
		_, err := c.mirror.Regenerate(ctx)
		return err
	}, logger)
	coalescer.Request()
	go coalescer.Start(ctx, cfg.RegenerateInterval)

	// 4. ライブ更新の監視
	if c.session != nil {
		tracked := append(append([]string{}, cfg.ChannelIDs...), cfg.OldChannelIDs...)
		watcher := discord.NewWatcher(c.session, tracked, coalescer, logger)
		if c.repo != nil {
			watcher.WithArchive(c.repo)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				slog.Error("discord watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// 5. 削除済みメッセージのパージを日次でバックグラウンド実行
	if c.db != nil {
		purge := cleanup.NewPurgeJob(c.db, logger)
		purge.RetentionDays = cfg.ArchiveRetentionDays
		go purge.Start(ctx, purgeInterval)
	}

	// 6. HTTPサーバーの起動
	limiter := middleware.NewRateLimiter(middleware.RegenerateRateLimiterConfig(cfg.RateLimitRegenerate), logger)
	defer limiter.Stop()

	deps := &handler.RouterDeps{
		Gatherer:    reg,
		Trigger:     coalescer,
		RateLimiter: limiter,
		SiteDir:     cfg.OutputDir,
		Logger:      logger,
	}
	if c.db != nil {
		deps.HealthChecker = c.db
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("stopped gracefully")
	return nil
}

// runMigrate はアーカイブDBのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
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

// Package app はコマンドの解析と依存関係のワイヤリングを行う。
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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/taskhub/internal/auth"
	"github.com/hitoshi/taskhub/internal/config"
	"github.com/hitoshi/taskhub/internal/database"
	"github.com/hitoshi/taskhub/internal/events"
	"github.com/hitoshi/taskhub/internal/handler"
	"github.com/hitoshi/taskhub/internal/integrity"
	"github.com/hitoshi/taskhub/internal/logger"
	"github.com/hitoshi/taskhub/internal/metrics"
	"github.com/hitoshi/taskhub/internal/middleware"
	"github.com/hitoshi/taskhub/internal/project"
	"github.com/hitoshi/taskhub/internal/repository"
	"github.com/hitoshi/taskhub/internal/security"
	"github.com/hitoshi/taskhub/internal/tag"
	"github.com/hitoshi/taskhub/internal/task"
	"github.com/hitoshi/taskhub/internal/user"
	"github.com/hitoshi/taskhub/internal/worker/repair"
)

// storeConnectTimeout はストア接続時のタイムアウト。
const storeConnectTimeout = 15 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// .env から読み込んだ LOG_LEVEL を反映する
	logger.SetupDefault(w, cfg.LogLevel)
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
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandRepair:
		return runRepair(cfg)
	default:
		return runServe(cfg)
	}
}

// openStore は設定に応じたストアへ接続し、リポジトリ一式を返す。
func openStore(ctx context.Context, cfg *config.Config) (*repository.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
	defer cancel()

	switch cfg.StoreDriver {
	case config.StoreDriverMongo:
		client, err := database.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		db := client.Database(cfg.MongoDatabase)
		if err := database.EnsureMongoIndexes(ctx, db); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		slog.Info("mongodb connection established",
			slog.String("database", cfg.MongoDatabase),
			slog.Bool("transactions", cfg.MongoTransactions),
		)
		return repository.NewMongoStore(client, db, cfg.MongoTransactions), nil
	default:
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		slog.Info("database connection established")
		return repository.NewPostgresStore(db), nil
	}
}

// closeStore はストアの接続を解放する。
func closeStore(store *repository.Store) {
	if store.Close == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Close(ctx); err != nil {
		slog.Warn("failed to close store", slog.String("error", err.Error()))
	}
}

// newPublisher はイベント発行先を返す。NATS_URL が未設定なら何も発行しない。
func newPublisher(cfg *config.Config) (events.Publisher, func(), error) {
	if cfg.NATSURL == "" {
		return events.NopPublisher{}, func() {}, nil
	}
	nc, err := events.Connect(cfg.NATSURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("nats connection established", slog.String("subject_prefix", cfg.NATSSubjectPrefix))
	closer := func() {
		if err := nc.Drain(); err != nil {
			slog.Warn("failed to drain nats connection", slog.String("error", err.Error()))
		}
	}
	return events.NewNATSPublisher(nc, cfg.NATSSubjectPrefix), closer, nil
}

// newRegistry はGo・プロセスのメトリクスを含むレジストリとCollectorを生成する。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// Services はHTTP層から使うサービス一式。
type Services struct {
	Integrity *integrity.Service
	Issuer    *auth.TokenIssuer
	Users     *user.Service
	Projects  *project.Service
	Tasks     *task.Service
	Tags      *tag.Service
}

// NewServices はストアを元にドメインサービスを組み立てる。
func NewServices(cfg *config.Config, store *repository.Store, publisher events.Publisher, collector metrics.MetricsCollector) *Services {
	sanitizer := security.NewTextSanitizer()
	issuer := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTTTL)
	integ := integrity.NewService(store,
		integrity.WithPublisher(publisher),
		integrity.WithRecorder(collector),
	)

	return &Services{
		Integrity: integ,
		Issuer:    issuer,
		Users:     user.NewService(store.Users, auth.NewBcryptHasher(cfg.BcryptCost), issuer, sanitizer),
		Projects:  project.NewService(store.Projects, integ, sanitizer, collector, cfg.PageLimitMax),
		Tasks:     task.NewService(store.Tasks, store.Projects, integ, sanitizer, collector, cfg.PageLimitMax),
		Tags:      tag.NewService(store.Tags, store.Projects, integ, sanitizer, collector),
	}
}

// NewHandler はAPIサーバーのルーターを組み立てる。返されるRateLimiterは終了時にStopすること。
func NewHandler(cfg *config.Config, store *repository.Store, svc *Services, collector metrics.MetricsCollector, gatherer prometheus.Gatherer) (http.Handler, *middleware.RateLimiter) {
	limiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		TokenVerifier:     svc.Issuer,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		Metrics:           collector,
		Pinger:            store.Pinger,

		UserService:    svc.Users,
		ProjectService: svc.Projects,
		TaskService:    svc.Tasks,
		TagService:     svc.Tags,
	}
	if gatherer != nil {
		deps.MetricsHandler = metrics.Handler(gatherer)
	}
	return handler.NewRouter(deps), limiter
}

// runServe はAPIサーバーモードで起動する。
// ストアへ接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. ストア接続
	store, err := openStore(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	// 2. イベント発行
	publisher, closePublisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	// 3. メトリクスとサービス
	reg, collector := newRegistry()
	svc := NewServices(cfg, store, publisher, collector)

	// 4. ルーターの構築
	router, limiter := NewHandler(cfg, store, svc, collector, reg)
	defer limiter.Stop()

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, "API server")
}

// serveUntilSignal はサーバーを起動し、SIGINT/SIGTERMでグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s listen error: %w", name, err)
	case <-stop:
	}
	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 整合性修復ジョブを REPAIR_INTERVAL ごとに実行し、/health と /metrics を公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	store, err := openStore(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	reg, collector := newRegistry()
	integ := integrity.NewService(store, integrity.WithRecorder(collector))
	job := repair.NewJob(integ, collector, slog.Default())

	r := chi.NewRouter()
	r.Get("/health", handler.NewHealthHandler(store.Pinger))
	r.Handle("/metrics", metrics.Handler(reg))
	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting", slog.Duration("repair_interval", cfg.RepairInterval))

	// 修復スケジューラをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.RepairInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runRepair は整合性修復を1回実行して終了する。
func runRepair(cfg *config.Config) error {
	store, err := openStore(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	job := repair.NewJob(integrity.NewService(store), nil, slog.Default())
	report, err := job.Run(context.Background())
	if err != nil {
		return err
	}

	slog.Info("repair completed",
		slog.Int("users_fixed", report.UsersFixed),
		slog.Int("projects_fixed", report.ProjectsFixed),
		slog.Int("tags_fixed", report.TagsFixed),
		slog.Int("tasks_fixed", report.TasksFixed),
	)
	return nil
}

// runMigrate はデータベースのスキーマを最新にする。
// PostgreSQLはすべての未適用マイグレーションを順番に適用し、MongoDBはインデックスを作成する。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreDriver == config.StoreDriverMongo {
		store, err := openStore(context.Background(), cfg)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		closeStore(store)
		slog.Info("mongodb indexes ensured")
		return nil
	}

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

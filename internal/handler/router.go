package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/taskhub/internal/metrics"
	"github.com/hitoshi/taskhub/internal/middleware"
	"github.com/hitoshi/taskhub/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	// MetricsHandler が nil でなければ /metrics に公開する
	MetricsHandler http.Handler
	Pinger         Pinger

	UserService    UserServiceInterface
	ProjectService ProjectServiceInterface
	TaskService    TaskServiceInterface
	TagService     TagServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → SecurityHeaders → CORS → Metrics → Logging → Auth → RateLimit(General) → RequireRole
//
// 登録・ログインは認証の外に置き、クライアントIPごとのレート制限を掛ける。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewLoggingMiddleware(logger))

	userHandler := NewUserHandler(deps.UserService)
	projectHandler := NewProjectHandler(deps.ProjectService)
	taskHandler := NewTaskHandler(deps.TaskService)
	tagHandler := NewTagHandler(deps.TagService)
	manager := middleware.RequireRole(model.RoleManager, collector)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.Pinger))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.AuthEndpointMiddleware())
		}
		r.Post("/api/users/register", userHandler.Register)
		r.Post("/api/users/login", userHandler.Login)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Get("/api/users/profile", userHandler.Profile)

		r.Route("/api/projects", func(r chi.Router) {
			r.With(manager).Post("/", projectHandler.Create)
			r.Get("/", projectHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", projectHandler.Get)
				r.With(manager).Patch("/", projectHandler.Update)
				r.With(manager).Delete("/", projectHandler.Delete)

				r.With(manager).Post("/members", projectHandler.AddMember)
				r.With(manager).Delete("/members/{userId}", projectHandler.RemoveMember)

				r.Post("/tags", tagHandler.Create)
				r.Get("/tags", tagHandler.List)
			})
		})

		r.Route("/api/tasks", func(r chi.Router) {
			r.With(manager).Post("/", taskHandler.Create)
			r.Get("/", taskHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", taskHandler.Get)
				r.Patch("/", taskHandler.Update)
				r.With(manager).Delete("/", taskHandler.Delete)
				r.With(manager).Post("/tags/{tagId}", taskHandler.ToggleTag)
			})
		})

		r.Route("/api/tags/{id}", func(r chi.Router) {
			r.Patch("/", tagHandler.Rename)
			r.Delete("/", tagHandler.Delete)
		})
	})

	return r
}

package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/library-backend/api/controllers"
	"github.com/angelmondragon/library-backend/api/middleware"
	"github.com/angelmondragon/library-backend/internal/access"
	"github.com/angelmondragon/library-backend/internal/auditlog"
	"github.com/angelmondragon/library-backend/internal/auth"
	"github.com/angelmondragon/library-backend/internal/books"
	"github.com/angelmondragon/library-backend/internal/circulation"
	"github.com/angelmondragon/library-backend/internal/students"
	"github.com/angelmondragon/library-backend/internal/users"
	"github.com/angelmondragon/library-backend/pkg/auth/session"
	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/angelmondragon/library-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/library-backend/pkg/redis"
)

// Dependencies are the services the HTTP surface is built from.
type Dependencies struct {
	DB               controllers.Pinger
	Redis            controllers.Pinger
	Sessions         session.AccessSessionChecker
	RateLimits       middleware.RateLimitStore
	IdempotencyStore pkgredis.IdempotencyStore
	Metrics          prometheus.Gatherer

	Auth        auth.Service
	Books       books.Service
	Students    students.Service
	Circulation circulation.Service
	Users       users.Service
	AuditLog    auditlog.Service
	Settings    controllers.SettingsStore
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginUsernameLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		0,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": deps.DB,
			"redis":    deps.Redis,
		}))
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/settings", controllers.SettingsGet(deps.Settings, logg))

		r.Route("/auth", func(r chi.Router) {
			r.With(middleware.AuthRateLimit(loginPolicy, deps.RateLimits, logg)).Post("/login", controllers.AuthLogin(deps.Auth, logg))
			r.Post("/logout", controllers.AuthLogout(deps.Auth, cfg.JWT, logg))
			r.Post("/refresh", controllers.AuthRefresh(deps.Auth, cfg.JWT, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthRateLimit(registerPolicy, deps.RateLimits, logg))
			r.Post("/students/verify", controllers.StudentVerify(deps.Students, logg))
			r.Post("/students/register", controllers.StudentRegister(deps.Students, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, deps.Sessions, logg))

			r.Route("/me", func(r chi.Router) {
				r.Get("/", controllers.AccountMe(deps.Users, logg))
				r.Put("/", controllers.AccountUpdate(deps.Users, logg))
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireCapability(logg, access.ViewOwnLoans))
					r.Get("/profile", controllers.StudentProfile(deps.Students, logg))
					r.Put("/profile", controllers.StudentProfileUpdate(deps.Students, logg))
					r.Get("/loans", controllers.MyLoans(deps.Circulation, logg))
				})
			})

			r.Route("/books", func(r chi.Router) {
				r.Get("/", controllers.BookList(deps.Books, logg))
				r.Get("/categories", controllers.BookCategories(deps.Books, logg))
				r.With(middleware.RequireCapability(logg, access.OriginateTransactions, access.ManageCatalog)).
					Get("/lookup", controllers.BookByISBN(deps.Books, logg))

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireCapability(logg, access.ManageCatalog))
					r.Post("/", controllers.BookCreate(deps.Books, logg))
					r.Post("/import", controllers.BookImport(deps.Books, logg))
					r.Get("/export", controllers.BookExport(deps.Books, logg))
					r.Get("/template", controllers.BookTemplate(deps.Books, logg))
					r.Put("/{bookId}", controllers.BookUpdate(deps.Books, logg))
					r.Delete("/{bookId}", controllers.BookDelete(deps.Books, logg))
				})

				r.Get("/{bookId}", controllers.BookGet(deps.Books, logg))
			})

			r.Route("/students", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireCapability(logg, access.OriginateTransactions, access.ManageStudents))
					r.Get("/lookup", controllers.StudentLookup(deps.Students, logg))
					r.Get("/{studentId}", controllers.StudentGet(deps.Students, logg))
				})

				r.With(middleware.RequireCapability(logg, access.ManageStudents, access.ReturnItems)).
					Get("/{studentId}/loans", controllers.StudentLoans(deps.Circulation, logg))

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireCapability(logg, access.ManageStudents))
					r.Get("/", controllers.StudentList(deps.Students, logg))
					r.Post("/", controllers.StudentCreate(deps.Students, logg))
					r.Get("/pending", controllers.StudentPending(deps.Students, logg))
					r.Post("/import", controllers.StudentImport(deps.Students, logg))
					r.Get("/template", controllers.StudentTemplate(deps.Students, logg))
					r.Put("/{studentId}", controllers.StudentUpdate(deps.Students, logg))
					r.Delete("/{studentId}", controllers.StudentDelete(deps.Students, logg))
					r.Post("/{studentId}/approve", controllers.StudentApprove(deps.Students, logg))
					r.Post("/{studentId}/reject", controllers.StudentReject(deps.Students, logg))
				})
			})

			r.Route("/transactions", func(r chi.Router) {
				// ledger writes replay on retry; the capability check runs first
				idempotent := middleware.Idempotency(deps.IdempotencyStore, logg)

				r.With(middleware.RequireCapability(logg, access.OriginateTransactions), idempotent).
					Post("/", controllers.TransactionCreate(deps.Circulation, logg))
				r.With(middleware.RequireCapability(logg, access.ReturnItems)).
					Get("/lookup", controllers.TransactionByCode(deps.Circulation, logg))
				r.With(middleware.RequireCapability(logg, access.ReturnItems), idempotent).
					Post("/{transactionId}/return", controllers.TransactionReturn(deps.Circulation, logg))

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireCapability(logg, access.ReviewTransactions))
					r.Get("/pending", controllers.TransactionPending(deps.Circulation, logg))
					r.With(idempotent).Post("/{transactionId}/approve", controllers.TransactionApprove(deps.Circulation, logg))
					r.With(idempotent).Post("/{transactionId}/reject", controllers.TransactionReject(deps.Circulation, logg))
				})

				r.Get("/{transactionId}", controllers.TransactionGet(deps.Circulation, logg))
			})

			r.With(middleware.RequireCapability(logg, access.ViewDashboard)).
				Get("/dashboard", controllers.DashboardStats(deps.Circulation, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireCapability(logg, access.ManageStaff))
				r.Get("/staff", controllers.StaffList(deps.Users, logg))
				r.Post("/staff", controllers.StaffCreate(deps.Users, logg))
				r.Put("/staff/{userId}", controllers.StaffUpdate(deps.Users, logg))
				r.Delete("/staff/{userId}", controllers.StaffDelete(deps.Users, logg))
				r.Get("/audit-logs", controllers.AuditLogList(deps.AuditLog, logg))
			})

			r.With(middleware.RequireCapability(logg, access.ManageSettings)).
				Put("/settings", controllers.SettingsUpdate(deps.Settings, logg))
		})
	})

	return r
}

package core

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps is everything the HTTP layer needs, built once in main.
type Deps struct {
	Config    Config
	Log       *zap.Logger
	Auth      AuthService
	Users     UserRepository
	Catalog   *CatalogService
	Imports   *ImportService
	Queue     *QueueInspector
	Metrics   *Metrics
	Checks    map[string]DependencyCheck
	StartedAt time.Time
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.StartedAt.IsZero() {
		d.StartedAt = time.Now()
	}

	r := gin.New()
	r.Use(Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(d.Log))
	r.Use(d.Metrics.RequestMetrics())
	r.Use(CORSMiddleware(d.Config.AllowedOrigins))
	r.Use(LimitBody(maxBodyBytes))

	r.NoRoute(func(c *gin.Context) {
		writeError(c, notFoundError("route"))
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		deps := make(map[string]string, len(d.Checks))
		status, code := "ok", http.StatusOK
		for name, check := range d.Checks {
			deps[name] = "ok"
			if err := check(ctx); err != nil {
				deps[name] = "unavailable"
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		c.JSON(code, gin.H{"status": status, "dependencies": deps, "timestamp": time.Now().UTC()})
	})
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	requireAuth := RequireAuth(d.Auth)
	adminOnly := AdminOnly(d.Auth)

	api := r.Group("/api")
	{
		auth := api.Group("/auth")
		auth.POST("/register", func(c *gin.Context) {
			var req struct {
				Email    string `json:"email" binding:"required"`
				Password string `json:"password" binding:"required"`
				Name     string `json:"name" binding:"required"`
			}
			if !bindJSON(c, &req) {
				return
			}
			u, err := d.Auth.Register(c.Request.Context(), req.Email, req.Password, req.Name)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusCreated, u)
		})

		auth.POST("/login", func(c *gin.Context) {
			var req struct {
				Email    string `json:"email" binding:"required"`
				Password string `json:"password" binding:"required"`
			}
			if !bindJSON(c, &req) {
				return
			}
			res, err := d.Auth.Login(c.Request.Context(), req.Email, req.Password)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, res)
		})

		auth.GET("/me", requireAuth, func(c *gin.Context) {
			uid, _ := currentUserID(c)
			u, err := d.Auth.CurrentUser(c.Request.Context(), uid)
			if err != nil {
				if KindOf(err) == KindNotFound {
					err = ErrInvalidToken
				}
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, u)
		})

		registerCatalogRoutes(api, d, requireAuth, adminOnly)
		registerAdminRoutes(api.Group("/admin", requireAuth, adminOnly), d)
	}

	return r
}

func registerCatalogRoutes(api *gin.RouterGroup, d Deps, requireAuth, adminOnly gin.HandlerFunc) {
	cat := d.Catalog

	api.GET("/categories", func(c *gin.Context) {
		list, err := cat.ListCategories(c.Request.Context())
		respond(c, http.StatusOK, list, err)
	})
	api.GET("/categories/:id", func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}
		v, err := cat.GetCategory(c.Request.Context(), id)
		respond(c, http.StatusOK, v, err)
	})
	api.POST("/categories", requireAuth, adminOnly, func(c *gin.Context) {
		var in CategoryInput
		if !bindJSON(c, &in) {
			return
		}
		v, err := cat.CreateCategory(c.Request.Context(), in)
		respond(c, http.StatusCreated, v, err)
	})

	api.GET("/model-types", func(c *gin.Context) {
		list, err := cat.ListModelTypes(c.Request.Context())
		respond(c, http.StatusOK, list, err)
	})
	api.POST("/model-types", requireAuth, adminOnly, func(c *gin.Context) {
		var in ModelTypeInput
		if !bindJSON(c, &in) {
			return
		}
		v, err := cat.CreateModelType(c.Request.Context(), in)
		respond(c, http.StatusCreated, v, err)
	})

	api.GET("/models", func(c *gin.Context) {
		list, err := cat.ListModels(c.Request.Context())
		respond(c, http.StatusOK, list, err)
	})
	api.GET("/models/:id", func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}
		v, err := cat.GetModel(c.Request.Context(), id)
		respond(c, http.StatusOK, v, err)
	})
	api.POST("/models", requireAuth, adminOnly, func(c *gin.Context) {
		var in ModelInput
		if !bindJSON(c, &in) {
			return
		}
		v, err := cat.CreateModel(c.Request.Context(), in)
		respond(c, http.StatusCreated, v, err)
	})

	api.GET("/benchmarks", func(c *gin.Context) {
		list, err := cat.ListBenchmarks(c.Request.Context())
		respond(c, http.StatusOK, list, err)
	})
	api.GET("/benchmarks/:id", func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}
		v, err := cat.GetBenchmark(c.Request.Context(), id)
		respond(c, http.StatusOK, v, err)
	})
	api.POST("/benchmarks", requireAuth, adminOnly, func(c *gin.Context) {
		var in BenchmarkInput
		if !bindJSON(c, &in) {
			return
		}
		v, err := cat.CreateBenchmark(c.Request.Context(), in)
		respond(c, http.StatusCreated, v, err)
	})
	api.PATCH("/benchmarks/:id", requireAuth, adminOnly, func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}
		var in BenchmarkUpdateInput
		if !bindJSON(c, &in) {
			return
		}
		v, err := cat.UpdateBenchmark(c.Request.Context(), id, in)
		respond(c, http.StatusOK, v, err)
	})

	api.POST("/scores", requireAuth, adminOnly, func(c *gin.Context) {
		var in ScoreInput
		if !bindJSON(c, &in) {
			return
		}
		v, err := cat.UpsertScore(c.Request.Context(), in)
		respond(c, http.StatusCreated, v, err)
	})

	api.GET("/search", func(c *gin.Context) {
		res, err := cat.Search(c.Request.Context(), c.Query("q"))
		respond(c, http.StatusOK, res, err)
	})
}

// respond writes v with status, or the classified error.
func respond(c *gin.Context, status int, v any, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(status, v)
}

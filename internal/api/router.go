// Package api is the dashboard's HTTP surface.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mealdash/internal/aiflow"
	"mealdash/internal/attendance"
	"mealdash/internal/auth"
	"mealdash/internal/donation"
	"mealdash/internal/expense"
	"mealdash/internal/feedback"
	"mealdash/internal/httpmiddleware"
	"mealdash/internal/hygiene"
	"mealdash/internal/identity"
	"mealdash/internal/lookup"
	"mealdash/internal/metrics"
	"mealdash/internal/roster"
)

const framesRoute = "/v1/scan/sessions/:id/frames"

// Probe is one dependency reported on /healthz.
type Probe struct {
	Name  string
	Check func(ctx context.Context) bool
}

// Deps wires the router. Roster writes are disabled when RosterWriter is nil.
type Deps struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Probes  []Probe

	Issuer *auth.Issuer
	Auth   *auth.Service

	Roster       roster.Lookup
	RosterWriter roster.Writer
	Decoder      *identity.Decoder
	Cards        lookup.CardRenderer
	Sessions     *lookup.Registry

	Attendance *attendance.Service
	Hygiene    *hygiene.Service
	Feedback   *feedback.Service
	Donations  *donation.Service
	Expenses   *expense.Service
	AI         *aiflow.Runner

	CORSOrigins     []string
	Limiters        *Limiters // built from the two rates when nil
	RateLimitPerMin int
	FrameRatePerMin int
}

// Limiters are the per-client request buckets. Scan frame uploads get their
// own bucket with a burst of a tenth of the per-minute rate.
type Limiters struct {
	General *httpmiddleware.TokenBucket
	Frames  *httpmiddleware.TokenBucket
}

// NewLimiters sizes both buckets.
func NewLimiters(perMin, framesPerMin int) *Limiters {
	return &Limiters{
		General: httpmiddleware.NewTokenBucket(perMin, perMin),
		Frames:  httpmiddleware.NewTokenBucket(framesPerMin/10, framesPerMin),
	}
}

// Run forgets clients idle for longer than idle, checking every interval,
// until ctx is done.
func (l *Limiters) Run(ctx context.Context, interval, idle time.Duration) {
	var wg sync.WaitGroup
	for _, b := range []*httpmiddleware.TokenBucket{l.General, l.Frames} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Run(ctx, interval, idle)
		}()
	}
	wg.Wait()
}

type handler struct {
	Deps
	logger *zap.Logger
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	h := &handler{Deps: d, logger: d.Logger.Named("api")}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(h.logger, "/healthz", "/metrics"))
	r.Use(httpmiddleware.Duration(d.Metrics.HTTPDuration))
	r.Use(cors.New(corsConfig(d.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())
	if d.Limiters == nil {
		d.Limiters = NewLimiters(d.RateLimitPerMin, d.FrameRatePerMin)
	}
	r.Use(rateLimit(d.Limiters))

	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	r.GET("/healthz", h.healthz)

	r.POST("/v1/devices/register", h.registerDevice)
	r.POST("/v1/staff/login", h.staffLogin)
	r.POST("/v1/auth/refresh", h.refresh)

	v1 := r.Group("/v1", auth.Require(d.Issuer))
	v1.GET("/students", h.listStudents)
	v1.GET("/students/:id", h.getStudent)
	v1.GET("/students/:id/card.png", h.studentCard)
	v1.POST("/scan/decode", h.decodeFrame)

	scan := v1.Group("/scan/sessions")
	scan.POST("", h.createSession)
	scan.GET("/:id", h.getSession)
	scan.GET("/:id/card.png", h.sessionCard)
	scan.POST("/:id/frames", h.pushFrame)
	scan.POST("/:id/scan", h.startScan)
	scan.POST("/:id/cancel", h.cancelScan)
	scan.POST("/:id/select", h.selectStudent)
	scan.DELETE("/:id", h.deleteSession)

	v1.POST("/checkins", h.checkIn)
	v1.POST("/hygiene/reports", h.submitHygiene)
	v1.POST("/feedback", h.submitFeedback)

	staff := r.Group("/v1", auth.Require(d.Issuer, auth.RoleStaff))
	staff.GET("/attendance/daily", h.dailyAttendance)
	staff.GET("/hygiene/reports", h.listHygiene)
	staff.GET("/hygiene/reports/:id", h.getHygiene)
	staff.POST("/meals/plan", h.planMeal)
	staff.POST("/meals/purchase-plan", h.purchasePlan)
	staff.POST("/donations/suggest", h.suggestDonation)
	staff.POST("/donations/notify", h.notifyDonation)
	staff.POST("/expenses", h.addExpense)
	staff.GET("/expenses", h.listExpenses)
	staff.GET("/expenses/export.xlsx", h.exportExpenses)
	staff.POST("/roster/import", h.importRoster)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: len(origins) > 0,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// rateLimit sends scan frame uploads to their own bucket.
func rateLimit(l *Limiters) gin.HandlerFunc {
	g, f := l.General.GinMiddleware(), l.Frames.GinMiddleware()
	return func(c *gin.Context) {
		if c.FullPath() == framesRoute {
			f(c)
			return
		}
		g(c)
	}
}

func (h *handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for _, p := range h.Probes {
		ok := p.Check(ctx)
		body[p.Name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	if h.Sessions != nil {
		body["scan_sessions"] = h.Sessions.Len()
	}
	c.JSON(status, body)
}

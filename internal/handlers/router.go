package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"table-service/internal/logger"
	"table-service/internal/middleware"
)

// Set groups every handler the router mounts. Payments may be nil when
// checkout is not configured; its routes are then left out.
type Set struct {
	Tables   *TableHandler
	Orders   *OrderHandler
	Sessions *SessionHandler
	Events   *EventHandler
	Payments *PaymentHandler
}

type RouterOptions struct {
	RateLimitRPS   float64
	RateLimitBurst int
	QRRateEvery    time.Duration
	QRRateBurst    int
}

func DefaultRouterOptions() RouterOptions {
	return RouterOptions{
		RateLimitRPS:   200,
		RateLimitBurst: 400,
		QRRateEvery:    time.Second,
		QRRateBurst:    10,
	}
}

func NewRouter(h Set, opts RouterOptions, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.EnhancedLogger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS())
	router.Use(middleware.SecurityHeaders(log))
	router.Use(middleware.RateLimit(log, opts.RateLimitRPS, opts.RateLimitBurst))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"service":   "table-service",
			"version":   "1.0.0",
		})
	})

	v1 := router.Group("/api/v1")
	{
		tables := v1.Group("/tables")
		{
			tables.GET("", h.Tables.ListTables)
			tables.POST("", h.Tables.ProvisionTables)
			tables.GET("/:id", h.Tables.GetTable)
			tables.PATCH("/:id", h.Tables.UpdateMetadata)
			tables.POST("/:id/transition", h.Tables.Transition)
			tables.PUT("/:id/covers", h.Tables.SetCovers)
			tables.GET("/:id/history", h.Tables.GetHistory)
			tables.POST("/:id/qr", h.Tables.RotateQR)
			tables.GET("/:id/sessions", h.Sessions.ListTableSessions)
		}

		v1.GET("/layout", h.Tables.GetLayout)
		v1.PUT("/layout", h.Tables.UpdateLayout)

		orders := v1.Group("/orders")
		{
			orders.POST("", h.Orders.CreateOrder)
			orders.GET("", h.Orders.ListOrders)
			orders.GET("/summary", h.Orders.GetSummary)
			orders.GET("/:id", h.Orders.GetOrder)
			orders.PATCH("/:id/status", h.Orders.UpdateStatus)
			orders.PATCH("/:id/payment-status", h.Orders.UpdatePaymentStatus)
			orders.POST("/:id/cancel", h.Orders.CancelOrder)
			if h.Payments != nil {
				orders.POST("/:id/checkout", h.Payments.CreateCheckout)
				orders.POST("/:id/payment/sync", h.Payments.SyncPayment)
			}
		}

		inventory := v1.Group("/inventory")
		{
			inventory.GET("", h.Orders.ListInventory)
			inventory.PUT("/:menuItemId", h.Orders.SetStock)
		}

		// customers reach these without credentials
		sessions := v1.Group("/sessions", middleware.PerClientRateLimit(log, opts.QRRateEvery, opts.QRRateBurst))
		{
			sessions.POST("", h.Sessions.CreateSession)
			sessions.POST("/cleanup", h.Sessions.Cleanup)
			sessions.GET("/:id", h.Sessions.GetSession)
			sessions.GET("/:id/validate", h.Sessions.ValidateSession)
			sessions.PATCH("/:id", h.Sessions.UpdateSession)
			sessions.POST("/:id/close", h.Sessions.CloseSession)
			sessions.POST("/:id/extend", h.Sessions.ExtendSession)
		}

		evts := v1.Group("/events")
		{
			evts.GET("/stream", h.Events.Stream)
			evts.GET("/:type/history", h.Events.History)
		}

		if h.Payments != nil {
			v1.POST("/webhooks/stripe", h.Payments.StripeWebhook)
		}
	}

	log.LogProcess("ROUTER", "All routes registered successfully")
	return router
}

package routes

import (
	"github.com/gin-gonic/gin"

	"dayflow/internal/handlers"
	"dayflow/internal/middleware"
)

func SetupRoutes(
	r *gin.Engine,
	taskHandler *handlers.TaskHandler,
	settingsHandler *handlers.SettingsHandler,
	integrationsHandler *handlers.IntegrationsHandler,
	reportsHandler *handlers.ReportsHandler,
) *gin.Engine {

	// ---- public
	r.GET("/healthz", handlers.Health)
	r.POST("/integrations/telegram/webhook", integrationsHandler.Webhook)

	// ---- protected
	r.Use(middleware.AuthMiddleware())

	integr := r.Group("/integrations")
	{
		integr.POST("/telegram/request-link", integrationsHandler.RequestTelegramLink)
	}

	tasks := r.Group("/tasks")
	{
		tasks.POST("/", taskHandler.Create)
		tasks.GET("/", taskHandler.List)
		tasks.GET("/:id", taskHandler.GetByID)
		tasks.POST("/:id/schedule", taskHandler.Schedule)
		tasks.POST("/:id/complete", taskHandler.Complete)
		tasks.DELETE("/:id", taskHandler.Delete)
	}
	r.POST("/reconcile", taskHandler.Reconcile)

	settings := r.Group("/settings")
	{
		settings.GET("/working-hours", settingsHandler.GetWorkingHours)
		settings.PUT("/working-hours", settingsHandler.UpdateWorkingHours)
	}

	reports := r.Group("/reports")
	{
		reports.GET("/agenda", reportsHandler.DailyAgenda)
	}

	return r
}

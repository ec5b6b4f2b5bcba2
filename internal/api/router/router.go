package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gettalent/scheduler-service/internal/api/handler"
)

// SetupRouter configures the Gin router with all routes and middleware.
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "scheduler-service",
		})
	})

	taskHandler := handler.NewTaskHandler(deps)

	v1 := r.Group("/v1")
	v1.Use(AuthMiddleware(deps.Verifier, deps.Logger))
	{
		tasks := v1.Group("/tasks")
		{
			tasks.POST("", taskHandler.CreateTask)
			tasks.GET("", taskHandler.ListTasks)
			tasks.DELETE("", taskHandler.DeleteTasks)

			tasks.GET("/id/:id", taskHandler.GetTask)
			tasks.DELETE("/id/:id", taskHandler.DeleteTask)

			// batch pause/resume must be registered before the :id routes'
			// wildcards would otherwise shadow them
			tasks.POST("/pause", taskHandler.PauseTasks)
			tasks.POST("/resume", taskHandler.ResumeTasks)

			tasks.POST("/:id/pause", taskHandler.PauseTask)
			tasks.POST("/:id/resume", taskHandler.ResumeTask)
		}
	}

	return r
}

package routes

import (
	"order-service/controllers"
	"order-service/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterOrderRoutes(r *gin.Engine, oc *controllers.OrderController, checkoutLimiter *middleware.RateLimiter) {
	orderRoutes := r.Group("/orders")
	orderRoutes.Use(middleware.AuthMiddleware())
	orderRoutes.POST("/checkout", checkoutLimiter.Middleware(), oc.Checkout)
	orderRoutes.GET("", oc.GetOrders) // User's own orders
	orderRoutes.GET("/:id", oc.GetOrderByID)
	orderRoutes.GET("/:id/history", oc.GetOrderHistory)

	adminRoutes := r.Group("/admin")
	adminRoutes.Use(middleware.AuthMiddleware(), middleware.AdminOnly())
	adminRoutes.GET("/orders", oc.GetAllOrders) // All orders
	adminRoutes.PATCH("/orders/:id/status", oc.UpdateOrderStatus)
}

package controllers

import (
	"net/http"
	"strconv"
	"strings"

	apperrors "order-service/common/errors"
	"order-service/middleware"
	"order-service/models"
	"order-service/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type OrderController struct {
	checkout     services.CheckoutService
	orderService services.OrderService
}

func NewOrderController(checkout services.CheckoutService, orderService services.OrderService) *OrderController {
	return &OrderController{
		checkout:     checkout,
		orderService: orderService,
	}
}

// Checkout runs a checkout for the authenticated user. The Idempotency-Key
// header wins over the body field.
func (oc *OrderController) Checkout(ctx *gin.Context) {
	userID, err := middleware.GetUserID(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req models.CheckoutRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(apperrors.Validation(apperrors.ReasonInvalidRequest, "Invalid request: "+err.Error()))
		return
	}
	req.UserID = userID
	if key := strings.TrimSpace(ctx.GetHeader("Idempotency-Key")); key != "" {
		req.IdempotencyKey = key
	}

	result, err := oc.checkout.Checkout(ctx.Request.Context(), &req)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	status := http.StatusCreated
	if result.IsExisting {
		status = http.StatusOK
	}
	ctx.JSON(status, result)
}

// GetOrders returns paginated orders for the authenticated user
func (oc *OrderController) GetOrders(ctx *gin.Context) {
	userID, err := middleware.GetUserID(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	page, limit := parsePaginationParams(ctx)
	result, err := oc.orderService.GetUserOrders(ctx.Request.Context(), userID, page, limit)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// GetAllOrders returns paginated orders for all users (admin only)
func (oc *OrderController) GetAllOrders(ctx *gin.Context) {
	page, limit := parsePaginationParams(ctx)
	result, err := oc.orderService.GetAllOrders(ctx.Request.Context(), page, limit)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (oc *OrderController) GetOrderByID(ctx *gin.Context) {
	userID, orderID, ok := oc.orderParams(ctx)
	if !ok {
		return
	}

	order, err := oc.orderService.GetOrderByID(ctx.Request.Context(), orderID, userID)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

func (oc *OrderController) GetOrderHistory(ctx *gin.Context) {
	userID, orderID, ok := oc.orderParams(ctx)
	if !ok {
		return
	}

	history, err := oc.orderService.GetOrderHistory(ctx.Request.Context(), orderID, userID)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"history": history})
}

// UpdateOrderStatus applies an admin status transition.
func (oc *OrderController) UpdateOrderStatus(ctx *gin.Context) {
	adminID, orderID, ok := oc.orderParams(ctx)
	if !ok {
		return
	}

	var req services.TransitionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.ToStatus == "" {
		_ = ctx.Error(apperrors.Validation(apperrors.ReasonInvalidRequest, "status is required"))
		return
	}
	req.OrderID = orderID
	req.ActorID = adminID.String()
	req.ActorType = models.ActorAdmin

	order, err := oc.orderService.UpdateOrderStatus(ctx.Request.Context(), req)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

func (oc *OrderController) orderParams(ctx *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, err := middleware.GetUserID(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return uuid.Nil, uuid.Nil, false
	}
	orderID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID format", "reason": apperrors.ReasonInvalidRequest})
		return uuid.Nil, uuid.Nil, false
	}
	return userID, orderID, true
}

// parsePaginationParams extracts and validates pagination parameters
func parsePaginationParams(ctx *gin.Context) (int, int) {
	const MaxLimit = 100
	const MaxPage = 10000
	const DefaultPage = 1
	const DefaultLimit = 10

	page := ctx.DefaultQuery("page", "1")
	limit := ctx.DefaultQuery("limit", "10")

	pageInt := DefaultPage
	limitInt := DefaultLimit

	if p, err := strconv.Atoi(page); err == nil && p > 0 {
		pageInt = min(p, MaxPage)
	}

	if l, err := strconv.Atoi(limit); err == nil && l > 0 {
		limitInt = l
		if limitInt > MaxLimit {
			limitInt = MaxLimit
		}
	}

	return pageInt, limitInt
}

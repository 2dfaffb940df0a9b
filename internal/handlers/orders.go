package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"table-service/internal/models"
	"table-service/internal/services"
	"table-service/internal/utils"
)

type OrderHandler struct {
	orders *services.OrderService
}

func NewOrderHandler(orders *services.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload", err)
		return
	}

	res, err := h.orders.CreateOrder(c.Request.Context(), req)
	if err != nil {
		respondError(c, "Order creation failed", err)
		return
	}

	message := "Order created"
	if res.TableSyncError != nil {
		message = "Order created, table status not updated"
	}
	c.JSON(http.StatusCreated, utils.SuccessResponse(message, res))
}

func parseOrderFilters(c *gin.Context) models.OrderFilters {
	f := models.OrderFilters{
		PaymentStatus: models.PaymentStatus(c.Query("paymentStatus")),
		TableID:       c.Query("tableId"),
		Search:        c.Query("search"),
		Sort:          models.OrderSort(c.DefaultQuery("sort", string(models.SortNewest))),
	}
	if raw := c.Query("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				f.Statuses = append(f.Statuses, models.OrderStatus(st))
			}
		}
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		f.Limit = limit
	}
	return f
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), parseOrderFilters(c))
	if err != nil {
		respondError(c, "Failed to list orders", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Orders retrieved", orders))
}

func (h *OrderHandler) GetSummary(c *gin.Context) {
	summary, err := h.orders.GetOrdersSummary(c.Request.Context(), parseOrderFilters(c))
	if err != nil {
		respondError(c, "Failed to compute summary", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Orders summary", summary))
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to retrieve order", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Order retrieved", order))
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req models.OrderStatusUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload", err)
		return
	}

	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, "Failed to update order status", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Order status updated", order))
}

func (h *OrderHandler) UpdatePaymentStatus(c *gin.Context) {
	var req models.PaymentStatusUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload", err)
		return
	}

	order, err := h.orders.UpdatePaymentStatus(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, "Failed to update payment status", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Payment status updated", order))
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	var req models.CancelOrderRequest
	// body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request payload", err)
			return
		}
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, "Failed to cancel order", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Order cancelled", order))
}

func (h *OrderHandler) ListInventory(c *gin.Context) {
	var (
		inv []models.InventoryRecord
		err error
	)
	if c.Query("low") == "true" {
		inv, err = h.orders.LowStock(c.Request.Context())
	} else {
		inv, err = h.orders.ListInventory(c.Request.Context())
	}
	if err != nil {
		respondError(c, "Failed to list inventory", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Inventory retrieved", inv))
}

func (h *OrderHandler) SetStock(c *gin.Context) {
	var req models.StockUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload", err)
		return
	}

	rec, err := h.orders.SetStock(c.Request.Context(), c.Param("menuItemId"), req)
	if err != nil {
		respondError(c, "Failed to update stock", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Stock updated", rec))
}

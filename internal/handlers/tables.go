package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"table-service/internal/models"
	"table-service/internal/services"
	"table-service/internal/utils"
)

type TableHandler struct {
	tables *services.TableService
}

func NewTableHandler(tables *services.TableService) *TableHandler {
	return &TableHandler{tables: tables}
}

func (h *TableHandler) ListTables(c *gin.Context) {
	tables, err := h.tables.ListTables(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list tables", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Tables retrieved", tables))
}

func (h *TableHandler) GetTable(c *gin.Context) {
	table, err := h.tables.GetTable(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to retrieve table", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Table retrieved", table))
}

func (h *TableHandler) ProvisionTables(c *gin.Context) {
	var seeds []models.TableSeed
	if err := c.ShouldBindJSON(&seeds); err != nil {
		badRequest(c, "Invalid request payload", err)
		return
	}

	created, err := h.tables.ProvisionTables(c.Request.Context(), seeds)
	if err != nil {
		respondError(c, "Failed to provision tables", err)
		return
	}
	c.JSON(http.StatusCreated, utils.SuccessResponse("Tables provisioned", created))
}

func (h *TableHandler) Transition(c *gin.Context) {
	var req models.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload", err)
		return
	}

	table, err := h.tables.Transition(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, "Table transition failed", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Table status updated", table))
}

func (h *TableHandler) SetCovers(c *gin.Context) {
	var req models.CoversRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload", err)
		return
	}

	table, err := h.tables.SetCovers(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, "Failed to update covers", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Covers updated", table))
}

func (h *TableHandler) UpdateMetadata(c *gin.Context) {
	var req models.TableMetadataUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload", err)
		return
	}

	table, err := h.tables.UpdateMetadata(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, "Failed to update table", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Table updated", table))
}

func (h *TableHandler) GetHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	history, err := h.tables.GetHistory(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, "Failed to retrieve table history", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Table history retrieved", history))
}

func (h *TableHandler) RotateQR(c *gin.Context) {
	table, err := h.tables.RotateQR(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to rotate QR code", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("QR code rotated", gin.H{
		"tableId":       table.ID,
		"qrToken":       table.QRToken,
		"qrTokenExpiry": table.QRTokenExpiry,
	}))
}

func (h *TableHandler) GetLayout(c *gin.Context) {
	layout, err := h.tables.GetLayout(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to retrieve layout", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Layout retrieved", layout))
}

func (h *TableHandler) UpdateLayout(c *gin.Context) {
	var req models.FloorLayout
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload", err)
		return
	}

	layout, err := h.tables.UpdateLayout(c.Request.Context(), req)
	if err != nil {
		respondError(c, "Failed to update layout", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Layout updated", layout))
}

package server

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"boxes-go/internal/database"
	"boxes-go/internal/inventory"

	"github.com/gin-gonic/gin"
)

// writeInventoryError maps service errors to status codes.
func (h *httpHandler) writeInventoryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, inventory.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, inventory.ErrLocationInUse):
		c.JSON(http.StatusConflict, gin.H{"error": "location_in_use", "message": err.Error()})
	case errors.Is(err, database.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
	default:
		h.logger.Error("inventory request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *httpHandler) handleListBoxes(c *gin.Context) {
	bs, err := h.inventory.ListBoxes(c.Request.Context())
	if err != nil {
		h.writeInventoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"boxes": nonNil(bs)})
}

func (h *httpHandler) handleCreateBox(c *gin.Context) {
	var in inventory.BoxInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	b, err := h.inventory.CreateBox(c.Request.Context(), in)
	if err != nil {
		h.writeInventoryError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *httpHandler) handleGetBox(c *gin.Context) {
	ctx := c.Request.Context()
	b, err := h.inventory.GetBox(ctx, c.Param("id"))
	if err != nil {
		h.writeInventoryError(c, err)
		return
	}
	items, err := h.inventory.ListItems(ctx, b.ID)
	if err != nil {
		h.writeInventoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"box": b, "items": nonNil(items)})
}

func (h *httpHandler) handleUpdateBox(c *gin.Context) {
	var in inventory.BoxInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	b, err := h.inventory.UpdateBox(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.writeInventoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *httpHandler) handleDeleteBox(c *gin.Context) {
	if err := h.inventory.DeleteBox(c.Request.Context(), c.Param("id")); err != nil {
		h.writeInventoryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListItems(c *gin.Context) {
	items, err := h.inventory.ListItems(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeInventoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": nonNil(items)})
}

// handleAddItem accepts a form (multipart when a receipt is attached) with
// name, quantity, details, value and an optional receipt file.
func (h *httpHandler) handleAddItem(c *gin.Context) {
	in := inventory.ItemInput{
		Name:    c.PostForm("name"),
		Details: c.PostForm("details"),
	}

	if q := strings.TrimSpace(c.PostForm("quantity")); q != "" {
		n, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "quantity must be an integer"})
			return
		}
		in.Quantity = n
	}
	if v := strings.TrimSpace(c.PostForm("value")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "value must be a number"})
			return
		}
		in.Value = &f
	}

	if fh, err := c.FormFile("receipt"); err == nil {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "unreadable receipt"})
			return
		}
		defer f.Close()
		in.Receipt = &inventory.ReceiptUpload{Filename: fh.Filename, Body: f}
	} else if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	it, err := h.inventory.AddItem(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.writeInventoryError(c, err)
		return
	}
	c.JSON(http.StatusCreated, it)
}

func (h *httpHandler) handleGetItem(c *gin.Context) {
	it, err := h.inventory.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeInventoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (h *httpHandler) handleDeleteItem(c *gin.Context) {
	if err := h.inventory.DeleteItem(c.Request.Context(), c.Param("id")); err != nil {
		h.writeInventoryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListLocations(c *gin.Context) {
	locs, err := h.inventory.ListLocations(c.Request.Context())
	if err != nil {
		h.writeInventoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locations": nonNil(locs)})
}

func (h *httpHandler) handleCreateLocation(c *gin.Context) {
	var in inventory.LocationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	loc, err := h.inventory.CreateLocation(c.Request.Context(), in)
	if err != nil {
		h.writeInventoryError(c, err)
		return
	}
	c.JSON(http.StatusCreated, loc)
}

func (h *httpHandler) handleDeleteLocation(c *gin.Context) {
	if err := h.inventory.DeleteLocation(c.Request.Context(), c.Param("id")); err != nil {
		h.writeInventoryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSearch(c *gin.Context) {
	res, err := h.inventory.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.writeInventoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"boxes": nonNil(res.Boxes), "items": nonNil(res.Items)})
}

func (h *httpHandler) handleActivity(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	acts, err := h.inventory.Activity(c.Request.Context(), limit)
	if err != nil {
		h.writeInventoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": nonNil(acts)})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	st, err := h.inventory.Stats(c.Request.Context())
	if err != nil {
		h.writeInventoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *httpHandler) handleReceipt(c *gin.Context) {
	path, err := h.inventory.Receipts().Path(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.File(path)
}

// nonNil keeps empty lists as [] in JSON.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

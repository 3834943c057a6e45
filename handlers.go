package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/optics_backend/config"
	"bitbucket.org/mmdatafocus/optics_backend/models"
	"bitbucket.org/mmdatafocus/optics_backend/models/reports"
	"bitbucket.org/mmdatafocus/optics_backend/utils"
	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	registry *ControllerRegistry
	logger   *logrus.Logger
}

func NewHandlers(registry *ControllerRegistry, logger *logrus.Logger) *Handlers {
	return &Handlers{registry: registry, logger: logger}
}

// httpError maps the model error taxonomy onto status codes.
func httpError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotAuthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, models.ErrBusinessNotFound), errors.Is(err, models.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrPersistence):
		c.JSON(http.StatusBadGateway, gin.H{"error": "persistence failure"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// controller resolves the session user and their controller. Writes a
// 401 and returns false when the request carries no identity.
func (h *Handlers) controller(c *gin.Context) (*models.Controller, string, bool) {
	userId, ok := utils.GetUserIdFromContext(c.Request.Context())
	if !ok || userId == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, "", false
	}
	return h.registry.ForUser(c.Request.Context(), userId), userId, true
}

// withUserLock serializes ledger mutations per user via redis. Within
// one process the controller's state lock already serializes; the redis
// lock extends that across instances. Contention blocks and retries for
// a few seconds before the handler proceeds without the lock.
func (h *Handlers) withUserLock(c *gin.Context, userId string, fn func() error) error {
	_, span := tracer.Start(c.Request.Context(), "ledger.mutation")
	defer span.End()
	locker := config.GetRedisLock()
	if locker != nil {
		lock, err := locker.Obtain(c.Request.Context(), "lock:user:"+userId, 30*time.Second, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
		})
		if err != nil {
			h.logger.WithFields(logrus.Fields{
				"module": "handlers",
				"userId": userId,
			}).Warn("could not obtain redis lock; proceeding without it: " + err.Error())
		} else {
			defer func() {
				if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
					h.logger.WithFields(logrus.Fields{
						"module": "handlers",
						"userId": userId,
					}).Warn("failed to release redis lock: " + releaseErr.Error())
				}
			}()
		}
	}
	return fn()
}

// --- auth ---

type tokenRequest struct {
	UserId string `json:"userId" binding:"required"`
}

// TokenHandler issues a session token for a user id. Identity
// verification happens upstream; this service only needs a stable id.
func (h *Handlers) TokenHandler(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	token, err := utils.JwtGenerate(req.UserId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := config.SetRedisValue("Token:"+token, req.UserId, 24*time.Hour); err != nil {
		h.logger.WithFields(logrus.Fields{
			"module": "handlers",
			"userId": req.UserId,
		}).Warn("failed to cache session token: " + err.Error())
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handlers) SignOutHandler(c *gin.Context) {
	userId, ok := utils.GetUserIdFromContext(c.Request.Context())
	if !ok || userId == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	h.registry.Remove(userId)
	if token, ok := utils.GetTokenFromContext(c.Request.Context()); ok && token != "" {
		if err := config.RemoveRedisKey("Token:" + token); err != nil {
			h.logger.WithFields(logrus.Fields{
				"module": "handlers",
				"userId": userId,
			}).Warn("failed to remove session token: " + err.Error())
		}
	}
	c.Status(http.StatusNoContent)
}

// --- businesses ---

func (h *Handlers) ListBusinessesHandler(c *gin.Context) {
	ctrl, _, ok := h.controller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"businesses": ctrl.Businesses(), "activeId": ctrl.ActiveBusinessId()})
}

func (h *Handlers) GetBusinessHandler(c *gin.Context) {
	ctrl, _, ok := h.controller(c)
	if !ok {
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid business id"})
		return
	}
	biz, err := ctrl.GetBusiness(id)
	if err != nil {
		httpError(c, err)
		return
	}
	c.JSON(http.StatusOK, biz)
}

func (h *Handlers) AddBusinessHandler(c *gin.Context) {
	ctrl, _, ok := h.controller(c)
	if !ok {
		return
	}
	var input models.NewBusiness
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := ctrl.AddBusiness(c.Request.Context(), &input)
	if err != nil {
		httpError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handlers) UpdateBusinessHandler(c *gin.Context) {
	ctrl, _, ok := h.controller(c)
	if !ok {
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid business id"})
		return
	}
	var patch models.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := ctrl.UpdateBusiness(c.Request.Context(), id, patch); err != nil {
		httpError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) DeleteBusinessHandler(c *gin.Context) {
	ctrl, _, ok := h.controller(c)
	if !ok {
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid business id"})
		return
	}
	if err := ctrl.DeleteBusiness(c.Request.Context(), id); err != nil {
		httpError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type switchRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handlers) SwitchBusinessHandler(c *gin.Context) {
	ctrl, _, ok := h.controller(c)
	if !ok {
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid business id"})
		return
	}
	var req switchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := ctrl.SwitchBusiness(id, req.Username, req.Password); err != nil {
		httpError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activeId": ctrl.ActiveBusinessId()})
}

// --- generic collections ---

func parseCollection(c *gin.Context) (models.Collection, bool) {
	col := models.Collection(c.Param("collection"))
	for _, known := range models.AllCollections {
		if col == known {
			return col, true
		}
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "unknown collection"})
	return "", false
}

// ledgerCollections must go through the ledger endpoints so that
// balance and stock effects are applied.
func isLedgerCollection(col models.Collection) bool {
	switch col {
	case models.CollectionSales, models.CollectionPurchases, models.CollectionPayments:
		return true
	}
	return false
}

func (h *Handlers) ListRecordsHandler(c *gin.Context) {
	ctrl, _, ok := h.controller(c)
	if !ok {
		return
	}
	col, ok := parseCollection(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": ctrl.GetItems(col)})
}

func (h *Handlers) GetRecordHandler(c *gin.Context) {
	ctrl, _, ok := h.controller(c)
	if !ok {
		return
	}
	col, ok := parseCollection(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return
	}
	rec, err := ctrl.GetItem(col, id)
	if err != nil {
		httpError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handlers) AddRecordHandler(c *gin.Context) {
	ctrl, userId, ok := h.controller(c)
	if !ok {
		return
	}
	col, ok := parseCollection(c)
	if !ok {
		return
	}
	if isLedgerCollection(col) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "use the ledger endpoints for " + string(col)})
		return
	}
	rec, err := models.NewRecord(col)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := c.ShouldBindJSON(rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err = h.withUserLock(c, userId, func() error {
		return ctrl.AddItem(c.Request.Context(), col, rec)
	})
	if err != nil {
		httpError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handlers) UpdateRecordHandler(c *gin.Context) {
	ctrl, userId, ok := h.controller(c)
	if !ok {
		return
	}
	col, ok := parseCollection(c)
	if !ok {
		return
	}
	if isLedgerCollection(col) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "use the ledger endpoints for " + string(col)})
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return
	}
	var patch models.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err = h.withUserLock(c, userId, func() error {
		return ctrl.UpdateItem(c.Request.Context(), col, id, patch)
	})
	if err != nil {
		httpError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) DeleteRecordHandler(c *gin.Context) {
	ctrl, userId, ok := h.controller(c)
	if !ok {
		return
	}
	col, ok := parseCollection(c)
	if !ok {
		return
	}
	if isLedgerCollection(col) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "use the ledger endpoints for " + string(col)})
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return
	}
	err = h.withUserLock(c, userId, func() error {
		return ctrl.DeleteItem(c.Request.Context(), col, id)
	})
	if err != nil {
		httpError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- ledger ---

func transactionKind(c *gin.Context) (models.TransactionKind, bool) {
	switch c.FullPath() {
	case "/api/sales", "/api/sales/:id":
		return models.KindSale, true
	case "/api/purchases", "/api/purchases/:id":
		return models.KindPurchase, true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "unknown transaction kind"})
	return "", false
}

func (h *Handlers) PostTransactionHandler(c *gin.Context) {
	ctrl, userId, ok := h.controller(c)
	if !ok {
		return
	}
	kind, ok := transactionKind(c)
	if !ok {
		return
	}
	var t models.Transaction
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.withUserLock(c, userId, func() error {
		return ctrl.PostTransaction(c.Request.Context(), kind, &t)
	})
	if err != nil {
		httpError(c, err)
		return
	}
	c.JSON(http.StatusCreated, &t)
}

func (h *Handlers) EditTransactionHandler(c *gin.Context) {
	ctrl, userId, ok := h.controller(c)
	if !ok {
		return
	}
	kind, ok := transactionKind(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return
	}
	var patch models.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err = h.withUserLock(c, userId, func() error {
		return ctrl.EditTransaction(c.Request.Context(), kind, id, patch)
	})
	if err != nil {
		httpError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) DeleteTransactionHandler(c *gin.Context) {
	ctrl, userId, ok := h.controller(c)
	if !ok {
		return
	}
	kind, ok := transactionKind(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return
	}
	err = h.withUserLock(c, userId, func() error {
		return ctrl.DeleteTransaction(c.Request.Context(), kind, id)
	})
	if err != nil {
		httpError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) PostPaymentHandler(c *gin.Context) {
	ctrl, userId, ok := h.controller(c)
	if !ok {
		return
	}
	var p models.Payment
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.withUserLock(c, userId, func() error {
		return ctrl.PostPayment(c.Request.Context(), &p)
	})
	if err != nil {
		httpError(c, err)
		return
	}
	c.JSON(http.StatusCreated, &p)
}

func (h *Handlers) EditPaymentHandler(c *gin.Context) {
	ctrl, userId, ok := h.controller(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return
	}
	var patch models.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err = h.withUserLock(c, userId, func() error {
		return ctrl.EditPayment(c.Request.Context(), id, patch)
	})
	if err != nil {
		httpError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) DeletePaymentHandler(c *gin.Context) {
	ctrl, userId, ok := h.controller(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return
	}
	err = h.withUserLock(c, userId, func() error {
		return ctrl.DeletePayment(c.Request.Context(), id)
	})
	if err != nil {
		httpError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- backup ---

func (h *Handlers) ExportBackupHandler(c *gin.Context) {
	ctrl, _, ok := h.controller(c)
	if !ok {
		return
	}
	dump, err := ctrl.ExportDump()
	if err != nil {
		httpError(c, err)
		return
	}
	c.JSON(http.StatusOK, dump)
}

func (h *Handlers) ImportBackupHandler(c *gin.Context) {
	ctrl, userId, ok := h.controller(c)
	if !ok {
		return
	}
	var dump models.BackupDump
	if err := c.ShouldBindJSON(&dump); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.withUserLock(c, userId, func() error {
		return ctrl.ImportDump(c.Request.Context(), &dump)
	})
	if err != nil {
		httpError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- reports ---

func (h *Handlers) PartyBalanceReportHandler(c *gin.Context) {
	ctrl, _, ok := h.controller(c)
	if !ok {
		return
	}
	rows := reports.GetPartyBalanceReport(ctrl)
	if c.Query("format") == "xlsx" {
		if err := reports.ExportPartyBalanceExcel(c.Writer, rows); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

func (h *Handlers) StockSummaryReportHandler(c *gin.Context) {
	ctrl, _, ok := h.controller(c)
	if !ok {
		return
	}
	rows := reports.GetStockSummaryReport(ctrl)
	if c.Query("format") == "xlsx" {
		if err := reports.ExportStockSummaryExcel(c.Writer, rows); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/densematrix/voicemargin/internal/metrics"
	"github.com/densematrix/voicemargin/internal/payments"
	"github.com/densematrix/voicemargin/pkg/tokens"
)

const signatureHeader = "creem-signature"

const maxWebhookBytes = 1 << 20

type webhookEvent struct {
	ID        string        `json:"id"`
	EventType string        `json:"eventType"`
	Type      string        `json:"type"`
	Object    webhookObject `json:"object"`
}

type webhookObject struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

func (event webhookEvent) eventType() string {
	if event.EventType != "" {
		return event.EventType
	}
	return event.Type
}

func (event webhookEvent) dedupeKey() string {
	if event.ID != "" {
		return event.ID
	}
	return event.Object.ID
}

// handleWebhook processes Creem payment events. The signature is verified over
// the raw body strictly before any parsing; an unverifiable delivery never
// touches the ledger.
func (server *Server) handleWebhook(ginContext *gin.Context) {
	rawBody, err := io.ReadAll(io.LimitReader(ginContext.Request.Body, maxWebhookBytes))
	if err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "could not read body"))
		return
	}

	if server.cfg.CreemWebhookSecret != "" {
		signature := ginContext.GetHeader(signatureHeader)
		if !payments.VerifySignature(server.cfg.CreemWebhookSecret, rawBody, signature) {
			metrics.WebhookTotal.WithLabelValues("unknown", "bad_signature").Inc()
			server.logger.Warn("webhook signature mismatch")
			ginContext.JSON(http.StatusUnauthorized, errorResponse("invalid_signature", "signature verification failed"))
			return
		}
	}

	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		metrics.WebhookTotal.WithLabelValues("unknown", "malformed").Inc()
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "malformed event"))
		return
	}

	eventType := event.eventType()
	if eventType != "checkout.completed" {
		// Acknowledge everything else so the provider stops retrying.
		metrics.WebhookTotal.WithLabelValues(eventType, "ignored").Inc()
		ginContext.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	requestCtx, cancel := server.requestContext(ginContext)
	defer cancel()

	deviceID, err := tokens.NewDeviceID(event.Object.Metadata["device_id"])
	if err != nil {
		metrics.WebhookTotal.WithLabelValues(eventType, "bad_metadata").Inc()
		server.logger.Warn("webhook missing device id", zap.String("event_id", event.dedupeKey()))
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_metadata", "event metadata missing device_id"))
		return
	}

	productCode := event.Object.Metadata["product_type"]
	product, found := payments.FindProduct(productCode)
	if !found {
		metrics.WebhookTotal.WithLabelValues(eventType, "bad_metadata").Inc()
		server.logger.Warn("webhook unknown product", zap.String("product", productCode))
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_metadata", "event metadata names an unknown product"))
		return
	}

	// The event mark and the ledger mutation commit together: a credit that
	// fails here rolls the mark back, so the provider's retry is not
	// swallowed as a duplicate.
	eventKey := event.dedupeKey()

	if product.Unlimited() {
		months, err := tokens.NewGrantMonths(product.UnlimitedMonths)
		if err != nil {
			ginContext.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "invalid grant duration"))
			return
		}
		var status tokens.Status
		applied := true
		if eventKey == "" {
			status, err = server.tokens.GrantUnlimited(requestCtx, deviceID, months)
		} else {
			status, applied, err = server.tokens.GrantUnlimitedForEvent(requestCtx, eventKey, string(rawBody), deviceID, months)
		}
		if err != nil {
			server.logger.Error("unlimited grant failed", zap.String("device_id", deviceID.String()), zap.Error(err))
			ginContext.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "grant failed"))
			return
		}
		if !applied {
			metrics.WebhookTotal.WithLabelValues(eventType, "duplicate").Inc()
			ginContext.JSON(http.StatusOK, gin.H{"status": "already_processed"})
			return
		}
		metrics.WebhookTotal.WithLabelValues(eventType, "ok").Inc()
		server.logger.Info("unlimited granted",
			zap.String("device_id", deviceID.String()),
			zap.Int64("months", product.UnlimitedMonths))
		ginContext.JSON(http.StatusOK, gin.H{"status": "processed", "tokens": statusPayload(status)})
		return
	}

	amount, err := tokens.NewTokenCount(creditAmount(product, event.Object.Metadata))
	if err != nil {
		metrics.WebhookTotal.WithLabelValues(eventType, "bad_metadata").Inc()
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_metadata", "event carries no creditable amount"))
		return
	}
	var status tokens.Status
	applied := true
	if eventKey == "" {
		status, err = server.tokens.Credit(requestCtx, deviceID, amount)
	} else {
		status, applied, err = server.tokens.CreditForEvent(requestCtx, eventKey, string(rawBody), deviceID, amount)
	}
	if err != nil {
		server.logger.Error("credit failed", zap.String("device_id", deviceID.String()), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "credit failed"))
		return
	}
	if !applied {
		metrics.WebhookTotal.WithLabelValues(eventType, "duplicate").Inc()
		ginContext.JSON(http.StatusOK, gin.H{"status": "already_processed"})
		return
	}

	metrics.WebhookTotal.WithLabelValues(eventType, "ok").Inc()
	server.logger.Info("tokens credited",
		zap.String("device_id", deviceID.String()),
		zap.Int64("amount", amount.Int64()))
	ginContext.JSON(http.StatusOK, gin.H{"status": "processed", "tokens": statusPayload(status)})
}

// creditAmount prefers the catalog amount; a tokens metadata value covers
// events for products missing from the catalog snapshot.
func creditAmount(product payments.Product, metadata map[string]string) int64 {
	if product.Tokens > 0 {
		return product.Tokens
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(metadata["tokens"]), 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func (server *Server) handleAdminSetUnlimited(ginContext *gin.Context) {
	deviceID, ok := server.parseDeviceID(ginContext, ginContext.Param("device_id"))
	if !ok {
		return
	}
	rawMonths := ginContext.DefaultQuery("months", "1")
	parsedMonths, err := strconv.ParseInt(rawMonths, 10, 64)
	if err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_months", "months must be an integer"))
		return
	}
	months, err := tokens.NewGrantMonths(parsedMonths)
	if err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_months", "months must not be negative"))
		return
	}

	requestCtx, cancel := server.requestContext(ginContext)
	defer cancel()

	status, err := server.tokens.GrantUnlimited(requestCtx, deviceID, months)
	if err != nil {
		server.logger.Error("admin grant failed", zap.String("device_id", deviceID.String()), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "grant failed"))
		return
	}
	ginContext.JSON(http.StatusOK, statusPayload(status))
}

func (server *Server) handleAdminAddTokens(ginContext *gin.Context) {
	deviceID, ok := server.parseDeviceID(ginContext, ginContext.Param("device_id"))
	if !ok {
		return
	}
	rawAmount := ginContext.DefaultQuery("amount", "10")
	parsedAmount, err := strconv.ParseInt(rawAmount, 10, 64)
	if err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "amount must be an integer"))
		return
	}
	amount, err := tokens.NewTokenCount(parsedAmount)
	if err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "amount must be greater than zero"))
		return
	}

	requestCtx, cancel := server.requestContext(ginContext)
	defer cancel()

	status, err := server.tokens.Credit(requestCtx, deviceID, amount)
	if err != nil {
		server.logger.Error("admin credit failed", zap.String("device_id", deviceID.String()), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "credit failed"))
		return
	}
	ginContext.JSON(http.StatusOK, statusPayload(status))
}

func (server *Server) handleAdminReset(ginContext *gin.Context) {
	deviceID, ok := server.parseDeviceID(ginContext, ginContext.Param("device_id"))
	if !ok {
		return
	}

	requestCtx, cancel := server.requestContext(ginContext)
	defer cancel()

	if err := server.tokens.Reset(requestCtx, deviceID); err != nil {
		server.logger.Error("admin reset failed", zap.String("device_id", deviceID.String()), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "reset failed"))
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"status": "reset"})
}

package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/densematrix/voicemargin/internal/article"
	"github.com/densematrix/voicemargin/internal/metrics"
	"github.com/densematrix/voicemargin/internal/notionsync"
	"github.com/densematrix/voicemargin/internal/payments"
	"github.com/densematrix/voicemargin/pkg/tokens"
)

// Whisper rejects uploads above 25 MB, so there is no point accepting more.
const maxAudioBytes = 25 << 20

type extractRequest struct {
	URL string `json:"url"`
}

func (server *Server) handleExtract(ginContext *gin.Context) {
	var request extractRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with url"))
		return
	}

	requestCtx, cancel := server.requestContext(ginContext)
	defer cancel()

	extracted, err := server.extractor.Extract(requestCtx, request.URL)
	if err != nil {
		switch {
		case errors.Is(err, article.ErrInvalidURL):
			metrics.ArticleExtractTotal.WithLabelValues("invalid_url").Inc()
			ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_url", "url must be a valid http(s) address"))
		case errors.Is(err, article.ErrExtractionFailed):
			metrics.ArticleExtractTotal.WithLabelValues("no_content").Inc()
			ginContext.JSON(http.StatusBadRequest, errorResponse("extraction_failed", "could not extract readable content from the page"))
		default:
			metrics.ArticleExtractTotal.WithLabelValues("fetch_error").Inc()
			server.logger.Error("article fetch failed", zap.String("url", request.URL), zap.Error(err))
			ginContext.JSON(http.StatusServiceUnavailable, errorResponse("fetch_failed", "could not fetch the page"))
		}
		return
	}

	metrics.ArticleExtractTotal.WithLabelValues("ok").Inc()
	ginContext.JSON(http.StatusOK, gin.H{
		"title":        extracted.Title,
		"content":      extracted.Content,
		"author":       extracted.Author,
		"publish_date": extracted.PublishDate,
		"source_url":   extracted.SourceURL,
		"word_count":   extracted.WordCount,
	})
}

func (server *Server) handleTranscribe(ginContext *gin.Context) {
	deviceID, ok := server.deviceIDFromForm(ginContext)
	if !ok {
		return
	}

	fileHeader, err := ginContext.FormFile("audio")
	if err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("missing_audio", "multipart field audio is required"))
		return
	}
	if fileHeader.Size > maxAudioBytes {
		ginContext.JSON(http.StatusBadRequest, errorResponse("audio_too_large", "audio exceeds the 25MB limit"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_audio", "could not read uploaded audio"))
		return
	}
	audio, err := io.ReadAll(io.LimitReader(file, maxAudioBytes))
	_ = file.Close()
	if err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_audio", "could not read uploaded audio"))
		return
	}
	if len(audio) == 0 {
		ginContext.JSON(http.StatusBadRequest, errorResponse("empty_audio", "uploaded audio is empty"))
		return
	}

	requestCtx, cancel := server.requestContext(ginContext)
	defer cancel()

	allowed, err := server.tokens.CanUse(requestCtx, deviceID)
	if err != nil {
		server.logger.Error("token check failed", zap.String("device_id", deviceID.String()), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "token check failed"))
		return
	}
	if !allowed {
		ginContext.JSON(http.StatusPaymentRequired, errorResponse("payment_required", "No tokens remaining. Please purchase more."))
		return
	}

	// Debit before the upstream call. A lost race against another request of
	// the same device surfaces here as a failed debit.
	useResult, err := server.tokens.Use(requestCtx, deviceID)
	if err != nil {
		server.logger.Error("token debit failed", zap.String("device_id", deviceID.String()), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "token debit failed"))
		return
	}
	if !useResult.Success {
		ginContext.JSON(http.StatusPaymentRequired, errorResponse("payment_required", useResult.Message))
		return
	}
	metrics.TokenConsumedTotal.WithLabelValues(string(useResult.Kind)).Inc()

	start := time.Now()
	result, err := server.transcriber.Transcribe(requestCtx, audio, fileHeader.Filename)
	metrics.TranscriptionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TranscriptionTotal.WithLabelValues("error").Inc()
		server.logger.Error("transcription failed", zap.String("device_id", deviceID.String()), zap.Error(err))
		ginContext.JSON(http.StatusServiceUnavailable, errorResponse("transcription_failed", "transcription service unavailable"))
		return
	}

	metrics.TranscriptionTotal.WithLabelValues("ok").Inc()
	ginContext.JSON(http.StatusOK, gin.H{
		"text":             result.Text,
		"language":         result.Language,
		"duration":         result.DurationSeconds,
		"tokens_remaining": useResult.Remaining,
		"message":          useResult.Message,
	})
}

type syncNotionRequest struct {
	DeviceID     string        `json:"device_id"`
	ArticleTitle string        `json:"article_title"`
	ArticleURL   string        `json:"article_url"`
	Margins      []marginInput `json:"margins"`
}

type marginInput struct {
	HighlightText  string `json:"highlight_text"`
	VoiceNote      string `json:"voice_note"`
	HighlightStart int    `json:"highlight_start"`
	HighlightEnd   int    `json:"highlight_end"`
}

func (server *Server) handleSyncNotion(ginContext *gin.Context) {
	var request syncNotionRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if _, ok := server.parseDeviceID(ginContext, request.DeviceID); !ok {
		return
	}
	if len(request.Margins) == 0 {
		ginContext.JSON(http.StatusBadRequest, errorResponse("no_margins", "at least one margin is required"))
		return
	}

	margins := make([]notionsync.Margin, 0, len(request.Margins))
	for _, margin := range request.Margins {
		margins = append(margins, notionsync.Margin{
			HighlightText:  margin.HighlightText,
			VoiceNote:      margin.VoiceNote,
			HighlightStart: margin.HighlightStart,
			HighlightEnd:   margin.HighlightEnd,
		})
	}

	requestCtx, cancel := server.requestContext(ginContext)
	defer cancel()

	pageURL, err := server.syncer.SyncMargins(requestCtx, request.ArticleTitle, request.ArticleURL, margins)
	if err != nil {
		metrics.NotionSyncTotal.WithLabelValues("error").Inc()
		if errors.Is(err, notionsync.ErrNotConfigured) {
			ginContext.JSON(http.StatusServiceUnavailable, errorResponse("notion_not_configured", "notion sync is not configured"))
			return
		}
		server.logger.Error("notion sync failed", zap.Error(err))
		ginContext.JSON(http.StatusServiceUnavailable, errorResponse("sync_failed", "could not sync to notion"))
		return
	}

	metrics.NotionSyncTotal.WithLabelValues("ok").Inc()
	ginContext.JSON(http.StatusOK, gin.H{
		"notion_page_url": pageURL,
		"synced_margins":  len(margins),
	})
}

func (server *Server) handleTokenStatus(ginContext *gin.Context) {
	deviceID, ok := server.parseDeviceID(ginContext, ginContext.Param("device_id"))
	if !ok {
		return
	}

	requestCtx, cancel := server.requestContext(ginContext)
	defer cancel()

	status, err := server.tokens.Status(requestCtx, deviceID)
	if err != nil {
		server.logger.Error("status failed", zap.String("device_id", deviceID.String()), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "status unavailable"))
		return
	}
	ginContext.JSON(http.StatusOK, statusPayload(status))
}

func (server *Server) handleCanGenerate(ginContext *gin.Context) {
	deviceID, ok := server.parseDeviceID(ginContext, ginContext.Param("device_id"))
	if !ok {
		return
	}

	requestCtx, cancel := server.requestContext(ginContext)
	defer cancel()

	status, err := server.tokens.Status(requestCtx, deviceID)
	if err != nil {
		server.logger.Error("status failed", zap.String("device_id", deviceID.String()), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "status unavailable"))
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{
		"can_generate":         status.UnlimitedActive || status.Remaining > 0,
		"free_trial_available": !status.FreeTrialExhausted,
		"tokens_remaining":     status.Remaining,
		"is_unlimited":         status.UnlimitedActive,
	})
}

func (server *Server) handleProducts(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, gin.H{"products": payments.Catalog()})
}

type checkoutRequest struct {
	ProductID  string `json:"product_id"`
	DeviceID   string `json:"device_id"`
	SuccessURL string `json:"success_url"`
}

func (server *Server) handleCheckout(ginContext *gin.Context) {
	var request checkoutRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	deviceID, ok := server.parseDeviceID(ginContext, request.DeviceID)
	if !ok {
		return
	}
	product, found := payments.FindProduct(request.ProductID)
	if !found {
		metrics.PaymentTotal.WithLabelValues(request.ProductID, "unknown_product").Inc()
		ginContext.JSON(http.StatusBadRequest, errorResponse("unknown_product", "unknown product id"))
		return
	}
	if server.checkout == nil {
		ginContext.JSON(http.StatusServiceUnavailable, errorResponse("payments_not_configured", "payments are not configured"))
		return
	}

	providerProductID, mapped := server.cfg.CreemProductID(product.Code)
	if !mapped {
		metrics.PaymentTotal.WithLabelValues(product.Code, "not_configured").Inc()
		server.logger.Error("product missing a provider mapping", zap.String("product", product.Code))
		ginContext.JSON(http.StatusBadRequest, errorResponse("product_not_configured", "product is not configured with the payment provider"))
		return
	}

	requestCtx, cancel := server.requestContext(ginContext)
	defer cancel()

	session, err := server.checkout.CreateCheckout(requestCtx, payments.CheckoutInput{
		ProductID:  providerProductID,
		SuccessURL: request.SuccessURL,
		Metadata: map[string]string{
			"product_type": product.Code,
			"device_id":    deviceID.String(),
			"tokens":       strconv.FormatInt(product.Tokens, 10),
		},
	})
	if err != nil {
		metrics.PaymentTotal.WithLabelValues(product.Code, "provider_error").Inc()
		server.logger.Error("checkout creation failed", zap.String("product", product.Code), zap.Error(err))
		ginContext.JSON(http.StatusBadGateway, errorResponse("provider_error", "could not create checkout session"))
		return
	}

	metrics.PaymentTotal.WithLabelValues(product.Code, "created").Inc()
	ginContext.JSON(http.StatusOK, gin.H{
		"checkout_url": session.CheckoutURL,
		"session_id":   session.SessionID,
	})
}

// deviceIDFromForm reads device_id from a multipart form.
func (server *Server) deviceIDFromForm(ginContext *gin.Context) (tokens.DeviceID, bool) {
	return server.parseDeviceID(ginContext, ginContext.PostForm("device_id"))
}

// parseDeviceID validates a raw device id and answers 400 on failure.
func (server *Server) parseDeviceID(ginContext *gin.Context, raw string) (tokens.DeviceID, bool) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < server.cfg.MinDeviceIDLength {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_device_id", "device_id is missing or too short"))
		return tokens.DeviceID{}, false
	}
	deviceID, err := tokens.NewDeviceID(trimmed)
	if err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_device_id", "device_id is missing or too short"))
		return tokens.DeviceID{}, false
	}
	return deviceID, true
}

func (server *Server) requestContext(ginContext *gin.Context) (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(ginContext.Request.Context(), server.cfg.RequestTimeout)
}

func statusPayload(status tokens.Status) gin.H {
	return gin.H{
		"device_id":            status.DeviceID,
		"purchased_total":      status.PurchasedTotal,
		"purchased_used":       status.PurchasedUsed,
		"free_quota":           status.FreeQuota,
		"free_used":            status.FreeUsed,
		"tokens_remaining":     status.Remaining,
		"free_trial_exhausted": status.FreeTrialExhausted,
		"is_unlimited":         status.UnlimitedActive,
	}
}

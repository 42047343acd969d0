// internal/service/reward/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"courtside/internal/pkg/logger"
	"courtside/internal/service/reward/application"
	"courtside/internal/service/reward/domain"
)

// RewardHandler 封装了 reward 引擎的 HTTP 处理器。
// 认证发生在上游网关：调用者身份通过 X-User-ID 注入，这里只做使用。
type RewardHandler struct {
	service *application.RewardService
}

// NewRewardHandler 创建 HTTP 处理器实例。
func NewRewardHandler(service *application.RewardService) *RewardHandler {
	return &RewardHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *RewardHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/redemptions", h.handleRedemptions)
	mux.HandleFunc("/api/offers", h.handleListOffers)
}

// errorBody 是结构化的错误响应：机器可读的原因码 + 人类可读的描述。
type errorBody struct {
	Error struct {
		Code         string `json:"code"`
		Message      string `json:"message"`
		PointsNeeded int64  `json:"points_needed,omitempty"`
	} `json:"error"`
}

func (h *RewardHandler) handleRedemptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleRedeem(w, r)
	case http.MethodGet:
		h.handleListRedemptions(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *RewardHandler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing authenticated user identity", 0)
		return
	}

	var req application.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body", 0)
		return
	}
	if req.OfferID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "offer_id is required", 0)
		return
	}
	req.UserID = userID
	req.IdempotencyKey = r.Header.Get("X-Idempotency-Key")

	resp, err := h.service.Redeem(ctx, &req)
	if err != nil {
		h.writeRedeemError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeRedeemError 按错误分类学映射 HTTP 状态码：
// 规则类失败 400（不要重试），目标缺失 404，并发冲突 409（可以重试），
// 其余 500（需要排查）。
func (h *RewardHandler) writeRedeemError(w http.ResponseWriter, r *http.Request, err error) {
	if ie, ok := domain.AsIneligibility(err); ok {
		writeError(w, http.StatusBadRequest, string(ie.Reason), ie.Detail, ie.PointsNeeded)
		return
	}

	switch {
	case errors.Is(err, application.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), 0)
	case errors.Is(err, domain.ErrOfferNotFound), errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), 0)
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", "a concurrent update won the race, please retry", 0)
	default:
		logger.Ctx(r.Context()).Error().Err(err).Msg("redemption failed with unexpected error")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "unexpected error", 0)
	}
}

func (h *RewardHandler) handleListRedemptions(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing authenticated user identity", 0)
		return
	}

	resp, err := h.service.ListRedemptions(ctx, userID, r.URL.Query().Get("status"))
	if err != nil {
		if errors.Is(err, application.ErrInvalidStatusFilter) {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), 0)
			return
		}
		logger.Ctx(ctx).Error().Err(err).Msg("list redemptions failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "unexpected error", 0)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *RewardHandler) handleListOffers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	resp, err := h.service.ListOffers(ctx)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("list offers failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "unexpected error", 0)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, status int, code, message string, pointsNeeded int64) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	body.Error.PointsNeeded = pointsNeeded

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

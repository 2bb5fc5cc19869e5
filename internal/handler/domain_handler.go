// Package handler はAPIのHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/domainwatch/internal/model"
	"github.com/hitoshi/domainwatch/internal/repository"
	"github.com/hitoshi/domainwatch/internal/validate"
)

// DispatcherService はドメインハンドラーが必要とするサービスインターフェース。
type DispatcherService interface {
	// Submit はドメインを分析パイプラインへ投入する。
	Submit(ctx context.Context, domain string) (*model.SubmitResult, error)
	// Lookup はドメインレコードを取得する。未登録ならnilを返す。
	Lookup(ctx context.Context, domain string) (*model.DomainRecord, error)
}

// DomainHandler はドメイン分析APIのHTTPハンドラー。
// 全リクエストの監査ログをrequest_logsへ記録する。
// 監査ログの書き込み失敗はレスポンスに影響させず、ログ出力のみ行う。
type DomainHandler struct {
	dispatcher DispatcherService
	logRepo    repository.RequestLogRepository
	logger     *slog.Logger
}

// NewDomainHandler はDomainHandlerを生成する。
func NewDomainHandler(dispatcher DispatcherService, logRepo repository.RequestLogRepository, logger *slog.Logger) *DomainHandler {
	return &DomainHandler{
		dispatcher: dispatcher,
		logRepo:    logRepo,
		logger:     logger,
	}
}

// submitRequest はドメイン投入リクエストのボディ。
type submitRequest struct {
	Domain string `json:"domain"`
}

// domainRecordResponse はドメインレコードのAPIレスポンス。
type domainRecordResponse struct {
	Domain           string          `json:"domain"`
	Status           model.Status    `json:"status"`
	ThreatData       json.RawMessage `json:"threat_data,omitempty"`
	RegistrationData json.RawMessage `json:"registration_data,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	LastUpdated      *time.Time      `json:"last_updated,omitempty"`
	NextCheck        *time.Time      `json:"next_check,omitempty"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// GetDomain はドメインレコードの取得を処理する。
// GET /get?domain=example.com
// レコードが存在すれば200で返す。未登録の場合は分析を投入して202を返す。
func (h *DomainHandler) GetDomain(w http.ResponseWriter, r *http.Request) {
	domain := model.NormalizeDomain(r.URL.Query().Get("domain"))
	if err := validate.Domain(domain); err != nil {
		h.writeError(r, w, http.StatusBadRequest, model.NewInvalidDomainError(err.Error()), domain)
		return
	}

	record, err := h.dispatcher.Lookup(r.Context(), domain)
	if err != nil {
		h.logger.Error("ドメインレコードの取得に失敗しました",
			slog.String("domain", domain),
			slog.String("error", err.Error()),
		)
		h.writeError(r, w, http.StatusInternalServerError, model.NewLookupFailedError(), domain)
		return
	}

	if record != nil {
		h.writeJSON(r, w, http.StatusOK, toDomainRecordResponse(record), domain)
		return
	}

	// 未登録のドメインは分析パイプラインへ投入する
	result, err := h.dispatcher.Submit(r.Context(), domain)
	if err != nil {
		h.logger.Error("ドメイン分析の投入に失敗しました",
			slog.String("domain", domain),
			slog.String("error", err.Error()),
		)
		h.writeError(r, w, http.StatusInternalServerError, model.NewSubmitFailedError(), domain)
		return
	}

	h.writeJSON(r, w, http.StatusAccepted, result, domain)
}

// SubmitDomain はドメイン分析の投入を処理する。
// POST /post
// 冪等であり、分析中のドメインの再投入は既存ジョブへ畳み込まれる。
func (h *DomainHandler) SubmitDomain(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r, w, http.StatusBadRequest, model.NewInvalidRequestError(), "")
		return
	}

	domain := model.NormalizeDomain(req.Domain)
	if err := validate.Domain(domain); err != nil {
		h.writeError(r, w, http.StatusBadRequest, model.NewInvalidDomainError(err.Error()), domain)
		return
	}

	result, err := h.dispatcher.Submit(r.Context(), domain)
	if err != nil {
		h.logger.Error("ドメイン分析の投入に失敗しました",
			slog.String("domain", domain),
			slog.String("error", err.Error()),
		)
		h.writeError(r, w, http.StatusInternalServerError, model.NewSubmitFailedError(), domain)
		return
	}

	h.writeJSON(r, w, http.StatusAccepted, result, domain)
}

// toDomainRecordResponse はDomainRecordをAPIレスポンスに変換する。
func toDomainRecordResponse(record *model.DomainRecord) domainRecordResponse {
	return domainRecordResponse{
		Domain:           record.Domain,
		Status:           record.Status,
		ThreatData:       record.ThreatData,
		RegistrationData: record.RegistrationData,
		CreatedAt:        record.CreatedAt,
		LastUpdated:      record.LastUpdated,
		NextCheck:        record.NextCheck,
	}
}

// writeJSON はJSONレスポンスを書き込み、監査ログを記録する。
func (h *DomainHandler) writeJSON(r *http.Request, w http.ResponseWriter, statusCode int, body any, domain string) {
	payload, err := json.Marshal(body)
	if err != nil {
		h.logger.Error("レスポンスのエンコードに失敗しました",
			slog.String("error", err.Error()),
		)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(payload)

	h.audit(r, domain, payload, statusCode)
}

// writeError は統一エラーフォーマットでレスポンスを書き込み、監査ログを記録する。
func (h *DomainHandler) writeError(r *http.Request, w http.ResponseWriter, statusCode int, apiErr *model.APIError, domain string) {
	body := apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
	payload, _ := json.Marshal(body)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(payload)

	h.audit(r, domain, payload, statusCode)
}

// audit はリクエストの監査ログをrequest_logsへ記録する。
// 書き込み失敗はAPIレスポンスへ影響させない。
func (h *DomainHandler) audit(r *http.Request, domain string, response []byte, statusCode int) {
	entry := &model.RequestLog{
		Endpoint:   r.URL.Path,
		Method:     r.Method,
		Domain:     domain,
		Response:   response,
		StatusCode: statusCode,
		CreatedAt:  time.Now(),
	}
	if err := h.logRepo.Create(r.Context(), entry); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error("監査ログの記録に失敗しました",
			slog.String("endpoint", entry.Endpoint),
			slog.String("domain", domain),
			slog.String("error", err.Error()),
		)
	}
}

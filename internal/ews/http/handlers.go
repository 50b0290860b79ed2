package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Folokee/SASSI-Microservices/internal/common/httpx"
	"github.com/Folokee/SASSI-Microservices/internal/ews/news2"
	"github.com/Folokee/SASSI-Microservices/internal/ews/repository"
	"github.com/Folokee/SASSI-Microservices/internal/ews/service"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Handler 评分服务 HTTP Handler
type Handler struct {
	commands *service.CommandService
	queries  *service.QueryService
	logger   *zap.Logger
}

// NewHandler 创建评分服务 Handler
func NewHandler(commands *service.CommandService, queries *service.QueryService, logger *zap.Logger) *Handler {
	return &Handler{
		commands: commands,
		queries:  queries,
		logger:   logger,
	}
}

// Router 注册路由
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/command/calculate-ews", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.CalculateEWS(w, r)
	})

	mux.HandleFunc("/api/command/batch-calculate-ews", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.BatchCalculateEWS(w, r)
	})

	mux.HandleFunc("/api/query/patient/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		// /api/query/patient/{patientId}/latest 或 /history
		rest := strings.TrimPrefix(r.URL.Path, "/api/query/patient/")
		parts := strings.Split(rest, "/")
		if len(parts) != 2 || parts[0] == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch parts[1] {
		case "latest":
			h.GetLatest(w, r, parts[0])
		case "history":
			h.GetHistory(w, r, parts[0])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	mux.HandleFunc("/api/query/consensus/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		consensusID := strings.TrimPrefix(r.URL.Path, "/api/query/consensus/")
		if consensusID == "" || strings.Contains(consensusID, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.GetConsensus(w, r, consensusID)
	})

	mux.HandleFunc("/api/query/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ListEvents(w, r)
	})

	mux.HandleFunc("/api/query/stats/overview", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetOverview(w, r)
	})

	mux.HandleFunc("/api/query/high-risk-patients", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ListHighRisk(w, r)
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

// CalculateEWS 评分命令
func (h *Handler) CalculateEWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cmd service.CalculateCommand
	if err := httpx.ReadBodyJSON(r, maxBodyBytes, &cmd); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.commands.Calculate(ctx, cmd)
	if err != nil {
		var verr *news2.ValidationError
		if isValidation(err, &verr) {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := service.ValidateCommand(&cmd); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Calculate EWS failed",
			zap.String("patient_id", cmd.PatientID),
			zap.Error(err),
		)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to calculate EWS")
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, result)
}

// batchCalculateRequest 批量评分请求
type batchCalculateRequest struct {
	Calculations []service.CalculateCommand `json:"calculations"`
}

// BatchCalculateEWS 批量评分（部分成功允许）
func (h *Handler) BatchCalculateEWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req batchCalculateRequest
	if err := httpx.ReadBodyJSON(r, maxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Calculations) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "calculations must be a non-empty array")
		return
	}

	results, errors := h.commands.CalculateBatch(ctx, req.Calculations)
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"results": results,
		"errors":  errors,
	})
}

// GetLatest 患者当前视图
func (h *Handler) GetLatest(w http.ResponseWriter, r *http.Request, patientID string) {
	rm, err := h.queries.GetLatest(r.Context(), patientID)
	if err != nil {
		h.logger.Error("GetLatest failed", zap.String("patient_id", patientID), zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to query read model")
		return
	}
	if rm == nil {
		httpx.WriteError(w, http.StatusNotFound, "patient not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rm)
}

// GetHistory 患者分数历史
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request, patientID string) {
	limit := httpx.ParseInt(r.URL.Query().Get("limit"), 20)
	from, err := httpx.ParseTime(r.URL.Query().Get("from"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid from timestamp")
		return
	}
	to, err := httpx.ParseTime(r.URL.Query().Get("to"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid to timestamp")
		return
	}

	history, err := h.queries.GetHistory(r.Context(), patientID, limit, from, to)
	if err != nil {
		h.logger.Error("GetHistory failed", zap.String("patient_id", patientID), zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	if history == nil {
		httpx.WriteError(w, http.StatusNotFound, "patient not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"patientId": patientID,
		"history":   history,
	})
}

// GetConsensus 按 ID 查询评分共识
func (h *Handler) GetConsensus(w http.ResponseWriter, r *http.Request, consensusID string) {
	consensus, err := h.queries.GetConsensus(r.Context(), consensusID)
	if err != nil {
		h.logger.Error("GetConsensus failed", zap.String("consensus_id", consensusID), zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to query consensus")
		return
	}
	if consensus == nil {
		httpx.WriteError(w, http.StatusNotFound, "consensus not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, consensus)
}

// ListEvents 查询评分事件
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filters := repository.EventFilters{
		Limit: httpx.ParseInt(r.URL.Query().Get("limit"), 100),
	}
	if patientID := strings.TrimSpace(r.URL.Query().Get("patientId")); patientID != "" {
		filters.PatientID = &patientID
	}
	if kind := strings.TrimSpace(r.URL.Query().Get("eventType")); kind != "" {
		filters.Kind = &kind
	}
	from, err := httpx.ParseTime(r.URL.Query().Get("from"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid from timestamp")
		return
	}
	filters.From = from
	to, err := httpx.ParseTime(r.URL.Query().Get("to"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid to timestamp")
		return
	}
	filters.To = to

	events, err := h.queries.ListEvents(r.Context(), filters)
	if err != nil {
		h.logger.Error("ListEvents failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to query events")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, events)
}

// GetOverview 统计概览
func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.queries.GetOverview(r.Context())
	if err != nil {
		h.logger.Error("GetOverview failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to query overview")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, overview)
}

// ListHighRisk 高风险患者
func (h *Handler) ListHighRisk(w http.ResponseWriter, r *http.Request) {
	minScore := httpx.ParseInt(r.URL.Query().Get("minScore"), 5)
	patients, err := h.queries.ListHighRisk(r.Context(), minScore)
	if err != nil {
		h.logger.Error("ListHighRisk failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to query high risk patients")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, patients)
}

// isValidation 判断错误链中是否有 NEWS2 校验错误
func isValidation(err error, target **news2.ValidationError) bool {
	return errors.As(err, target)
}

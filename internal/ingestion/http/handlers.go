package httpapi

import (
	"net/http"
	"strings"

	"github.com/Folokee/SASSI-Microservices/internal/common/httpx"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/models"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/repository"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/service"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Handler 接入服务 HTTP Handler
type Handler struct {
	ingestion *service.IngestionService
	logger    *zap.Logger
}

// NewHandler 创建接入服务 Handler
func NewHandler(ingestion *service.IngestionService, logger *zap.Logger) *Handler {
	return &Handler{
		ingestion: ingestion,
		logger:    logger,
	}
}

// Router 注册路由
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/data/sensor", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.PostSensorReading(w, r)
	})

	mux.HandleFunc("/api/data/batch", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.PostBatch(w, r)
	})

	mux.HandleFunc("/api/data/patient/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		patientID := strings.TrimPrefix(r.URL.Path, "/api/data/patient/")
		if patientID == "" || strings.Contains(patientID, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.GetPatientConsensus(w, r, patientID)
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

// PostSensorReading 接入单条读数
func (h *Handler) PostSensorReading(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reading models.SensorReading
	if err := httpx.ReadBodyJSON(r, maxBodyBytes, &reading); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := service.ValidateReading(&reading); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	cons, err := h.ingestion.IngestReading(ctx, &reading)
	if err != nil {
		h.logger.Error("Failed to ingest reading",
			zap.String("patient_id", reading.PatientID),
			zap.String("sensor_type", reading.SensorType),
			zap.Error(err),
		)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to ingest reading")
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"readingId": reading.ReadingID,
		"consensus": cons,
	})
}

// batchRequest 批量接入请求
type batchRequest struct {
	Readings []models.SensorReading `json:"readings"`
}

// batchItemError 批量接入的单条失败记录
type batchItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// PostBatch 批量接入读数（部分成功允许）
func (h *Handler) PostBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req batchRequest
	if err := httpx.ReadBodyJSON(r, maxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Readings) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "readings must be a non-empty array")
		return
	}

	results := []map[string]any{}
	errors := []batchItemError{}
	for i := range req.Readings {
		reading := req.Readings[i]
		if err := service.ValidateReading(&reading); err != nil {
			errors = append(errors, batchItemError{Index: i, Error: err.Error()})
			continue
		}
		cons, err := h.ingestion.IngestReading(ctx, &reading)
		if err != nil {
			h.logger.Error("Failed to ingest batch reading",
				zap.Int("index", i),
				zap.Error(err),
			)
			errors = append(errors, batchItemError{Index: i, Error: "failed to ingest reading"})
			continue
		}
		results = append(results, map[string]any{
			"readingId": reading.ReadingID,
			"consensus": cons,
		})
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"results": results,
		"errors":  errors,
	})
}

// GetPatientConsensus 查询患者传感器共识
func (h *Handler) GetPatientConsensus(w http.ResponseWriter, r *http.Request, patientID string) {
	ctx := r.Context()

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

	filters := repository.ConsensusFilters{From: from, To: to}
	if sensorType := strings.TrimSpace(r.URL.Query().Get("sensorType")); sensorType != "" {
		if !models.IsValidSensorType(sensorType) {
			httpx.WriteError(w, http.StatusBadRequest, "unknown sensorType")
			return
		}
		filters.SensorType = &sensorType
	}

	consensus, err := h.ingestion.QueryConsensus(ctx, patientID, filters)
	if err != nil {
		h.logger.Error("Failed to query consensus",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to query consensus")
		return
	}
	if len(consensus) == 0 {
		httpx.WriteError(w, http.StatusNotFound, "no consensus records for patient")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, consensus)
}

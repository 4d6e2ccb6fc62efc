// internal/handlers/record.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/healthledger/attestation-service/internal/i18n"
	"github.com/healthledger/attestation-service/internal/models"
	"github.com/healthledger/attestation-service/internal/services"
	"github.com/healthledger/attestation-service/internal/utils"
)

type RecordHandler struct {
	recordService *services.RecordService
	syncService   *services.SyncService
}

type exportRequest struct {
	TargetChain string `json:"target_chain,omitempty" validate:"max=64"`
}

type syncRequest struct {
	Records []services.PutRecordRequest `json:"records" validate:"required,min=1,max=1000"`
}

func NewRecordHandler(recordService *services.RecordService, syncService *services.SyncService) *RecordHandler {
	return &RecordHandler{
		recordService: recordService,
		syncService:   syncService,
	}
}

// POST /records
func (h *RecordHandler) Put(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.PutRecordRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.recordService.Put(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, err, i18n.ResourceRecord)
		return
	}

	utils.CreatedResponse(c, result)
}

// GET /records/:id
func (h *RecordHandler) Get(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	record, err := h.recordService.Get(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondError(c, err, i18n.ResourceRecord)
		return
	}

	utils.SuccessResponse(c, record)
}

// GET /records/:id/anonymized
func (h *RecordHandler) GetAnonymized(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	projection, err := h.recordService.GetAnonymized(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondError(c, err, i18n.ResourceRecord)
		return
	}

	utils.SuccessResponse(c, projection)
}

// GET /records/:id/history
func (h *RecordHandler) History(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	history, err := h.recordService.History(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondError(c, err, i18n.ResourceRecord)
		return
	}

	utils.SuccessResponse(c, history)
}

// GET /records/:id/audit
func (h *RecordHandler) AuditTrail(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	trail, err := h.recordService.AuditTrail(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondError(c, err, i18n.ResourceRecord)
		return
	}

	utils.SuccessResponse(c, trail)
}

// POST /records/:id/export
func (h *RecordHandler) Export(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req exportRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	result, err := h.recordService.Export(c.Request.Context(), caller, c.Param("id"), req.TargetChain)
	if err != nil {
		respondError(c, err, i18n.ResourceRecord)
		return
	}

	if result.Existing {
		utils.SuccessResponse(c, result)
		return
	}
	utils.CreatedResponse(c, result)
}

// PUT /records/:id/access-level
func (h *RecordHandler) UpdateAccessLevel(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.UpdateAccessLevelRequest
	if !bindJSON(c, &req) {
		return
	}

	record, err := h.recordService.UpdateAccessLevel(c.Request.Context(), caller, c.Param("id"), &req)
	if err != nil {
		respondError(c, err, i18n.ResourceRecord)
		return
	}

	utils.SuccessResponse(c, record)
}

// GET /organizations/:id/records
func (h *RecordHandler) QueryByOwner(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	params := services.RecordQueryParams{
		PaginationParams: utils.GetPaginationParams(c),
		DiseaseCategory:  c.Query("disease_category"),
	}

	result, err := h.recordService.QueryByOwner(c.Request.Context(), caller, c.Param("id"), params)
	if err != nil {
		respondError(c, err, i18n.ResourceOrganization)
		return
	}

	utils.PaginatedResponse(c, *result)
}

// POST /consent
func (h *RecordHandler) UpdateConsent(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.UpdateConsentRequest
	if !bindJSON(c, &req) {
		return
	}

	record, err := h.recordService.UpdateConsent(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, err, i18n.ResourceRecord)
		return
	}

	utils.SuccessResponse(c, record)
}

// POST /records/sync
func (h *RecordHandler) Sync(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req syncRequest
	if !bindJSON(c, &req) {
		return
	}

	report, err := h.syncService.BulkSync(c.Request.Context(), caller, req.Records)
	if err != nil {
		respondError(c, err, i18n.ResourceRecord)
		return
	}

	utils.SuccessResponse(c, report)
}

// POST /alerts
func (h *RecordHandler) CreateAlert(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.CreateAlertRequest
	if !bindJSON(c, &req) {
		return
	}

	alert, err := h.recordService.CreateAlert(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, err, i18n.ResourceAlert)
		return
	}

	utils.CreatedResponse(c, alert)
}

// PUT /alerts/:id/resolve
func (h *RecordHandler) ResolveAlert(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	alertID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationInvalid, "alert id"), nil)
		return
	}

	alert, err := h.recordService.ResolveAlert(c.Request.Context(), caller, alertID)
	if err != nil {
		respondError(c, err, i18n.ResourceAlert)
		return
	}

	utils.SuccessResponse(c, alert)
}

// GET /alerts
func (h *RecordHandler) ListAlerts(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	params := services.AlertQueryParams{
		PaginationParams: utils.GetPaginationParams(c),
		Status:           models.AlertStatus(c.Query("status")),
		DiseaseCode:      c.Query("disease_code"),
	}

	result, err := h.recordService.ListAlerts(c.Request.Context(), caller, params)
	if err != nil {
		respondError(c, err, i18n.ResourceAlert)
		return
	}

	utils.PaginatedResponse(c, *result)
}

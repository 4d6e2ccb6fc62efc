// internal/handlers/dataset.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/healthledger/attestation-service/internal/i18n"
	"github.com/healthledger/attestation-service/internal/services"
	"github.com/healthledger/attestation-service/internal/utils"
)

type DatasetHandler struct {
	marketplaceService *services.MarketplaceService
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func NewDatasetHandler(marketplaceService *services.MarketplaceService) *DatasetHandler {
	return &DatasetHandler{
		marketplaceService: marketplaceService,
	}
}

// POST /datasets
func (h *DatasetHandler) Create(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.CreateDatasetRequest
	if !bindJSON(c, &req) {
		return
	}

	dataset, err := h.marketplaceService.CreateDataset(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, err, i18n.ResourceProof) // missing backing proof
		return
	}

	utils.CreatedResponse(c, dataset)
}

// GET /datasets
func (h *DatasetHandler) List(c *gin.Context) {
	params := services.DatasetQueryParams{
		PaginationParams: utils.GetPaginationParams(c),
		DatasetType:      c.Query("dataset_type"),
		ProviderOrgID:    c.Query("provider"),
		ActiveOnly:       c.Query("active") == "true",
	}

	result, err := h.marketplaceService.ListDatasets(c.Request.Context(), params)
	if err != nil {
		respondError(c, err, i18n.ResourceDataset)
		return
	}

	utils.PaginatedResponse(c, *result)
}

// GET /datasets/:id
func (h *DatasetHandler) Get(c *gin.Context) {
	datasetID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	dataset, err := h.marketplaceService.GetDataset(c.Request.Context(), datasetID)
	if err != nil {
		respondError(c, err, i18n.ResourceDataset)
		return
	}

	utils.SuccessResponse(c, dataset)
}

// POST /datasets/:id/compliance
func (h *DatasetHandler) SetCompliance(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	datasetID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var req services.SetComplianceRequest
	if !bindJSON(c, &req) {
		return
	}

	dataset, err := h.marketplaceService.SetCompliance(c.Request.Context(), caller, datasetID, &req)
	if err != nil {
		respondError(c, err, i18n.ResourceDataset)
		return
	}

	utils.SuccessResponse(c, dataset)
}

// PUT /datasets/:id/active
func (h *DatasetHandler) SetActive(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	datasetID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var req setActiveRequest
	if !bindJSON(c, &req) {
		return
	}

	dataset, err := h.marketplaceService.SetActive(c.Request.Context(), caller, datasetID, *req.Active)
	if err != nil {
		respondError(c, err, i18n.ResourceDataset)
		return
	}

	utils.SuccessResponse(c, dataset)
}

// POST /datasets/:id/purchase
func (h *DatasetHandler) Purchase(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	datasetID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var req services.PurchaseRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.marketplaceService.Purchase(c.Request.Context(), caller, datasetID, &req)
	if err != nil {
		respondError(c, err, i18n.ResourceDataset)
		return
	}

	utils.CreatedResponse(c, result)
}

// POST /datasets/:id/rate
func (h *DatasetHandler) Rate(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	datasetID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var req services.RateRequest
	if !bindJSON(c, &req) {
		return
	}

	dataset, err := h.marketplaceService.Rate(c.Request.Context(), caller, datasetID, &req)
	if err != nil {
		respondError(c, err, i18n.ResourceDataset)
		return
	}

	utils.SuccessResponse(c, dataset)
}

// GET /datasets/:id/license/:address
func (h *DatasetHandler) HasValidLicense(c *gin.Context) {
	datasetID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	address := c.Param("address")

	valid, err := h.marketplaceService.HasValidLicense(c.Request.Context(), address, datasetID)
	if err != nil {
		respondError(c, err, i18n.ResourceLicense)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"dataset_id": datasetID,
		"address":    address,
		"valid":      valid,
	})
}

// GET /licenses/:address
func (h *DatasetHandler) ListLicenses(c *gin.Context) {
	result, err := h.marketplaceService.ListLicenses(c.Request.Context(), c.Param("address"), utils.GetPaginationParams(c))
	if err != nil {
		respondError(c, err, i18n.ResourceLicense)
		return
	}

	utils.PaginatedResponse(c, *result)
}

// POST /datasets/:id/artifact
func (h *DatasetHandler) UploadArtifact(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	datasetID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	lang := utils.GetLangFromContext(c)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "file"), err.Error())
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "file"), err.Error())
		return
	}
	defer file.Close()

	result, err := h.marketplaceService.UploadArtifact(c.Request.Context(), caller, datasetID,
		fileHeader.Filename, fileHeader.Header.Get("Content-Type"), file)
	if err != nil {
		respondError(c, err, i18n.ResourceDataset)
		return
	}

	utils.CreatedResponse(c, result)
}

// GET /datasets/:id/download
func (h *DatasetHandler) Download(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	datasetID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	link, err := h.marketplaceService.DownloadURL(c.Request.Context(), caller, datasetID)
	if err != nil {
		respondError(c, err, i18n.ResourceDataset)
		return
	}

	utils.SuccessResponse(c, link)
}

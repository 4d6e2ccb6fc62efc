// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/healthledger/attestation-service/internal/i18n"
	"github.com/healthledger/attestation-service/internal/middleware"
	"github.com/healthledger/attestation-service/internal/policy"
	"github.com/healthledger/attestation-service/internal/services"
	"github.com/healthledger/attestation-service/internal/utils"
)

type errorMapping struct {
	target error
	status int
	key    string
}

// checked in order; ErrAlreadySubmitted must precede ErrAlreadyExists
var errorMappings = []errorMapping{
	{services.ErrAccessDenied, http.StatusForbidden, i18n.KeyAccessDenied},
	{services.ErrInvalidCredentials, http.StatusUnauthorized, i18n.KeyAuthInvalidCredentials},
	{services.ErrAlreadySubmitted, http.StatusConflict, i18n.KeyAlreadySubmitted},
	{services.ErrAlreadyExists, http.StatusConflict, i18n.KeyAlreadyExists},
	{services.ErrConcurrentModification, http.StatusConflict, i18n.KeyConcurrentModification},
	{services.ErrDuplicateVote, http.StatusConflict, i18n.KeyDuplicateVote},
	{services.ErrUnknownValidator, http.StatusForbidden, i18n.KeyUnknownValidator},
	{services.ErrInvalidSignature, http.StatusBadRequest, i18n.KeyInvalidSignature},
	{services.ErrProofFinalized, http.StatusConflict, i18n.KeyProofFinalized},
	{services.ErrProofExpired, http.StatusGone, i18n.KeyProofExpired},
	{services.ErrInsufficientBalance, http.StatusPaymentRequired, i18n.KeyInsufficientBalance},
	{services.ErrSupplyExceeded, http.StatusUnprocessableEntity, i18n.KeySupplyExceeded},
	{services.ErrComplianceNotApproved, http.StatusUnprocessableEntity, i18n.KeyComplianceNotApproved},
	{services.ErrDatasetInactive, http.StatusUnprocessableEntity, i18n.KeyDatasetInactive},
}

// respondError writes the API error for err. resource names the i18n
// not-found message.
func respondError(c *gin.Context, err error, resource string) {
	lang := utils.GetLangFromContext(c)
	code := services.ErrorCode(err)

	if errors.Is(err, services.ErrNotFound) {
		utils.ErrorResponse(c, http.StatusNotFound, code, i18n.T(lang, resource+".not_found"), err.Error())
		return
	}

	var inputErr *services.InputError
	if errors.As(err, &inputErr) {
		if details := utils.GetValidationErrors(err); len(details) > 0 {
			utils.ValidationErrorResponse(c, details)
			return
		}
	}
	if errors.Is(err, services.ErrValidationFailed) {
		utils.ErrorResponse(c, http.StatusBadRequest, code, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			utils.ErrorResponse(c, m.status, code, i18n.T(lang, m.key), err.Error())
			return
		}
	}

	logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("Unhandled service error")
	utils.InternalErrorResponse(c, "")
}

// bindJSON decodes and validates the request body. It writes the error
// response itself and reports whether the handler should continue.
func bindJSON(c *gin.Context, req interface{}) bool {
	lang := utils.GetLangFromContext(c)
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}

	// Validate request
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}

func requireCaller(c *gin.Context) (policy.Caller, bool) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
	}
	return caller, ok
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		lang := utils.GetLangFromContext(c)
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, name), nil)
		return 0, false
	}
	return uint(id), true
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/fabiomadge/materialproviders/cmm"
	"github.com/fabiomadge/materialproviders/materials"
	"github.com/fabiomadge/materialproviders/suite"
)

type handler struct {
	materialsManager cmm.MaterialsManager
	logger           *zap.Logger
}

// Byte fields ride as base64 per encoding/json's []byte convention.
type (
	encryptedDataKeyDTO struct {
		KeyProviderID   string `json:"key_provider_id"`
		KeyProviderInfo []byte `json:"key_provider_info"`
		Ciphertext      []byte `json:"ciphertext"`
	}

	encryptionMaterialsRequest struct {
		AlgorithmSuiteID  uint16            `json:"algorithm_suite_id,omitempty"`
		EncryptionContext map[string]string `json:"encryption_context,omitempty"`
		PlaintextLength   *int64            `json:"plaintext_length,omitempty"`
	}

	encryptionMaterialsResponse struct {
		AlgorithmSuiteID  uint16                `json:"algorithm_suite_id"`
		EncryptionContext map[string]string     `json:"encryption_context"`
		PlaintextDataKey  []byte                `json:"plaintext_data_key"`
		EncryptedDataKeys []encryptedDataKeyDTO `json:"encrypted_data_keys"`
	}

	decryptMaterialsRequest struct {
		AlgorithmSuiteID  uint16                `json:"algorithm_suite_id"`
		EncryptedDataKeys []encryptedDataKeyDTO `json:"encrypted_data_keys"`
		EncryptionContext map[string]string     `json:"encryption_context,omitempty"`
	}

	decryptMaterialsResponse struct {
		AlgorithmSuiteID uint16 `json:"algorithm_suite_id"`
		PlaintextDataKey []byte `json:"plaintext_data_key"`
		VerificationKey  []byte `json:"verification_key,omitempty"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

func (h *handler) handleEncryptionMaterials(w http.ResponseWriter, r *http.Request) {
	var req encryptionMaterialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	plaintextLength := int64(-1)
	if req.PlaintextLength != nil {
		plaintextLength = *req.PlaintextLength
	}

	em, err := h.materialsManager.GetEncryptionMaterials(r.Context(), cmm.EncryptionMaterialsRequest{
		EncryptionContext: materials.EncryptionContext(req.EncryptionContext),
		AlgorithmSuiteID:  suite.ID(req.AlgorithmSuiteID),
		PlaintextLength:   plaintextLength,
	})
	if err != nil {
		h.logger.Warn("get encryption materials failed", zap.Error(err))
		writeError(w, statusFor(err), err)
		return
	}

	edks := make([]encryptedDataKeyDTO, len(em.EncryptedDataKeys()))
	for i, edk := range em.EncryptedDataKeys() {
		edks[i] = encryptedDataKeyDTO{
			KeyProviderID:   edk.KeyProviderID,
			KeyProviderInfo: edk.KeyProviderInfo,
			Ciphertext:      edk.Ciphertext,
		}
	}

	writeJSON(w, http.StatusOK, encryptionMaterialsResponse{
		AlgorithmSuiteID:  uint16(em.AlgorithmSuite().ID),
		EncryptionContext: em.EncryptionContext(),
		PlaintextDataKey:  em.PlaintextDataKey(),
		EncryptedDataKeys: edks,
	})
}

func (h *handler) handleDecryptMaterials(w http.ResponseWriter, r *http.Request) {
	var req decryptMaterialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.EncryptedDataKeys) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("encrypted_data_keys must be non-empty"))
		return
	}

	edks := make([]materials.EncryptedDataKey, len(req.EncryptedDataKeys))
	for i, edk := range req.EncryptedDataKeys {
		edks[i] = materials.EncryptedDataKey{
			KeyProviderID:   edk.KeyProviderID,
			KeyProviderInfo: edk.KeyProviderInfo,
			Ciphertext:      edk.Ciphertext,
		}
	}

	dm, err := h.materialsManager.DecryptMaterials(r.Context(), cmm.DecryptMaterialsRequest{
		AlgorithmSuiteID:  suite.ID(req.AlgorithmSuiteID),
		EncryptedDataKeys: edks,
		EncryptionContext: materials.EncryptionContext(req.EncryptionContext),
	})
	if err != nil {
		h.logger.Warn("decrypt materials failed", zap.Error(err))
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, decryptMaterialsResponse{
		AlgorithmSuiteID: uint16(dm.AlgorithmSuite().ID),
		PlaintextDataKey: dm.PlaintextDataKey(),
		VerificationKey:  dm.VerificationKey(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, materials.ErrReservedField),
		errors.Is(err, materials.ErrSerialization):
		return http.StatusBadRequest
	case errors.Is(err, materials.ErrNoApplicableKey):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

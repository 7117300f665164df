package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"
)

type signaturePayload struct {
	AuditID    string `json:"auditId"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Action     string `json:"action"`
	Actor      string `json:"actor"`
	ActorID    string `json:"actorId,omitempty"`
	NewValues  string `json:"newValues,omitempty"`
	Reason     string `json:"reason,omitempty"`
	RiskLevel  string `json:"riskLevel"`
	RequestID  string `json:"requestId,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

func buildSignaturePayload(log *AuditLog) signaturePayload {
	payload := signaturePayload{
		AuditID:    log.AuditID.String(),
		EntityType: string(log.EntityType),
		EntityID:   log.EntityID,
		Action:     string(log.Action),
		Actor:      log.Actor,
		Reason:     log.Reason,
		RiskLevel:  string(log.RiskLevel),
		RequestID:  log.RequestID,
		CreatedAt:  log.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if log.ActorID != nil {
		payload.ActorID = log.ActorID.String()
	}
	if len(log.NewValues) > 0 {
		payload.NewValues = base64.StdEncoding.EncodeToString(log.NewValues)
	}
	return payload
}

// SignAuditLog generates an HMAC signature for the audit log.
func SignAuditLog(log *AuditLog, key []byte) ([]byte, error) {
	data, err := json.Marshal(buildSignaturePayload(log))
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(data)
	return mac.Sum(nil), nil
}

// VerifyAuditLogSignature verifies the HMAC signature for the audit log.
func VerifyAuditLogSignature(log *AuditLog, key []byte) (bool, error) {
	if len(log.Signature) == 0 {
		return false, nil
	}
	expected, err := SignAuditLog(log, key)
	if err != nil {
		return false, err
	}
	return hmac.Equal(expected, log.Signature), nil
}

package services

import "encoding/json"

// unwrapSNSEnvelope returns the inner message of an SNS notification
// delivered to SQS without raw message delivery, or body unchanged.
func unwrapSNSEnvelope(body string) string {
	var envelope struct {
		Type    string `json:"Type"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && envelope.Type == "Notification" && envelope.Message != "" {
		return envelope.Message
	}
	return body
}

package trustly

import (
	"encoding/json"
	"fmt"
)

// Notification is one inbound provider notification. SignatureValid is an
// explicit result rather than an error so the webhook endpoint can reject
// forged payloads without treating them as a crash.
type Notification struct {
	UUID           string
	Method         string
	Data           map[string]any
	SignatureValid bool
}

type notificationPayload struct {
	Method string `json:"method"`
	Params struct {
		UUID      string         `json:"uuid"`
		Data      map[string]any `json:"data"`
		Signature string         `json:"signature"`
	} `json:"params"`
	Version string `json:"version"`
}

// ParseNotification unmarshals and authenticates a raw notification body.
// An error is returned only for malformed JSON; a bad signature yields a
// Notification with SignatureValid false and no data.
func (c *Client) ParseNotification(raw []byte) (*Notification, error) {
	var payload notificationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse notification: %w", err)
	}

	n := &Notification{
		UUID:   payload.Params.UUID,
		Method: payload.Method,
	}

	tosign := payload.Method + payload.Params.UUID + SerializeStruct(payload.Params.Data)
	if !c.verifier.Verify(tosign, payload.Params.Signature) {
		return n, nil
	}

	n.Data = payload.Params.Data
	n.SignatureValid = true
	return n, nil
}

// CreateNotificationResponse produces the signed acknowledgment envelope for
// a notification, mirroring the request signing process.
func (c *Client) CreateNotificationResponse(uuid, method, status string) ([]byte, error) {
	data := map[string]any{"status": status}

	signature, err := c.signer.Sign(method + uuid + SerializeStruct(data))
	if err != nil {
		return nil, fmt.Errorf("failed to sign notification response: %w", err)
	}

	return json.Marshal(map[string]any{
		"result": map[string]any{
			"uuid":      uuid,
			"method":    method,
			"data":      data,
			"signature": signature,
		},
		"version": "1.1",
	})
}

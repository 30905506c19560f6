package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeChatRequest parses and validates an inbound chat completion body.
func DecodeChatRequest(raw []byte) (*ChatRequest, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, BadRequest("Request body is empty.")
	}
	var req ChatRequest
	if errDecode := json.Unmarshal(raw, &req); errDecode != nil {
		return nil, BadRequest(fmt.Sprintf("Invalid request body: %v", errDecode))
	}
	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" {
		return nil, BadRequest("Missing required field: model.")
	}
	if len(req.Messages) == 0 {
		return nil, BadRequest("Field messages must contain at least one message.")
	}
	for i, m := range req.Messages {
		if strings.TrimSpace(m.Role) == "" {
			return nil, BadRequest(fmt.Sprintf("Missing role in messages[%d].", i))
		}
	}
	req.Raw = raw
	return &req, nil
}

// DecodeEmbeddingRequest parses and validates an inbound embeddings body.
func DecodeEmbeddingRequest(raw []byte) (*EmbeddingRequest, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, BadRequest("Request body is empty.")
	}
	var req EmbeddingRequest
	if errDecode := json.Unmarshal(raw, &req); errDecode != nil {
		return nil, BadRequest(fmt.Sprintf("Invalid request body: %v", errDecode))
	}
	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" {
		return nil, BadRequest("Missing required field: model.")
	}
	if req.Input.Len() == 0 {
		return nil, BadRequest("Field input must not be empty.")
	}
	req.Raw = raw
	return &req, nil
}

// ResponsesRequest is the part of a Responses API body the gateway reads.
type ResponsesRequest struct {
	Raw    []byte `json:"-"`
	Model  string `json:"model"`
	Stream bool   `json:"stream,omitempty"`
}

// DecodeResponsesRequest parses a Responses API body. Only model is required.
func DecodeResponsesRequest(raw []byte) (*ResponsesRequest, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, BadRequest("Request body is empty.")
	}
	var req ResponsesRequest
	if errDecode := json.Unmarshal(raw, &req); errDecode != nil {
		return nil, BadRequest(fmt.Sprintf("Invalid request body: %v", errDecode))
	}
	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" {
		return nil, BadRequest("Missing required field: model.")
	}
	req.Raw = raw
	return &req, nil
}

// Package protocol defines the request/response types of the remote document API.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/fruitsalade/lifionfs/pkg/models"
)

// Endpoint paths of the remote document store.
const (
	PathHealth         = "/health"
	PathDocuments      = "/documents"
	PathDocumentSize   = "/document_size/"
	PathDocumentScript = "/document_script/"
)

// DocumentsResponse is returned by GET /documents.
// Each element of IDs is an [identifier, displayName] pair. Pairs are kept raw
// so a malformed pair does not discard the ones before it.
type DocumentsResponse struct {
	IDs []json.RawMessage `json:"ids"`
}

// DocumentSizeResponse is returned by GET /document_size/{id}.
type DocumentSizeResponse struct {
	Size int64 `json:"size"`
}

// DocumentScriptResponse is returned by GET /document_script/{id}.
type DocumentScriptResponse struct {
	Script string `json:"script"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// DecodeRef decodes one [identifier, displayName] pair.
func DecodeRef(raw json.RawMessage) (models.DocumentRef, error) {
	var pair []string
	if err := json.Unmarshal(raw, &pair); err != nil {
		return models.DocumentRef{}, fmt.Errorf("decode document pair: %w", err)
	}
	if len(pair) != 2 {
		return models.DocumentRef{}, fmt.Errorf("decode document pair: want 2 elements, got %d", len(pair))
	}
	return models.DocumentRef{ID: pair[0], Name: pair[1]}, nil
}

// EncodeRefs builds a listing payload from refs.
func EncodeRefs(refs []models.DocumentRef) (*DocumentsResponse, error) {
	resp := &DocumentsResponse{IDs: make([]json.RawMessage, 0, len(refs))}
	for _, ref := range refs {
		raw, err := json.Marshal([2]string{ref.ID, ref.Name})
		if err != nil {
			return nil, err
		}
		resp.IDs = append(resp.IDs, raw)
	}
	return resp, nil
}

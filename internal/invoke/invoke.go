// Package invoke adapts the dispatcher to a managed-function event contract.
//
// An event is a JSON object carrying the FetchRequest fields (url,
// content_type, force_mode, proxy_tier, ...). The reply is
// {"statusCode": n, "body": "<json>"} where body holds either a success
// payload or {"success": false, "error_kind": ..., "message": ...}.
package invoke

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/tierfetch/internal/crawler"
)

// Dispatcher serves one fetch request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req crawler.FetchRequest) crawler.FetchResult
}

// Event is the inbound function payload.
type Event struct {
	crawler.FetchRequest
}

// Response is the function reply.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Body is the decoded form of Response.Body.
type Body struct {
	Success         bool              `json:"success"`
	RequestID       string            `json:"request_id,omitempty"`
	URL             string            `json:"url,omitempty"`
	DocumentsFound  int               `json:"documents_found"`
	Content         string            `json:"content,omitempty"`
	Binary          []byte            `json:"binary,omitempty"`
	ContentType     string            `json:"content_type,omitempty"`
	Category        crawler.Category  `json:"category,omitempty"`
	SizeBytes       int               `json:"size_bytes,omitempty"`
	TierUsed        crawler.Tier      `json:"tier_used,omitempty"`
	FromCache       bool              `json:"from_cache,omitempty"`
	RenderSuggested bool              `json:"render_suggested,omitempty"`
	Attempts        []crawler.Attempt `json:"attempts,omitempty"`
	ErrorKind       crawler.ErrorKind `json:"error_kind,omitempty"`
	Message         string            `json:"message,omitempty"`
}

// Handler turns events into dispatcher calls.
type Handler struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewHandler constructs a Handler.
func NewHandler(dispatcher Dispatcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{dispatcher: dispatcher, logger: logger}
}

// HandleRaw decodes a JSON event and serves it.
func (h *Handler) HandleRaw(ctx context.Context, raw []byte) Response {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		h.logger.Warn("invalid event payload", zap.Error(err))
		return Failure(crawler.ErrorKindConstraintViolation, "invalid event payload: "+err.Error())
	}
	return h.Handle(ctx, evt)
}

// Handle serves one decoded event.
func (h *Handler) Handle(ctx context.Context, evt Event) Response {
	result := h.dispatcher.Dispatch(ctx, evt.FetchRequest)
	if !result.Success {
		h.logger.Info("invoke failed",
			zap.String("url", evt.URL),
			zap.String("error_kind", string(result.ErrorKind)),
		)
		return respond(result.ErrorKind.HTTPStatus(), Body{
			RequestID: result.RequestID,
			URL:       result.URL,
			Attempts:  result.Attempts,
			ErrorKind: result.ErrorKind,
			Message:   result.Message,
		})
	}
	return respond(http.StatusOK, FromResult(result))
}

// FromResult builds the success body for result.
func FromResult(result crawler.FetchResult) Body {
	body := Body{
		Success:         true,
		RequestID:       result.RequestID,
		URL:             result.URL,
		DocumentsFound:  result.DocumentsFound,
		ContentType:     result.ContentType,
		Category:        result.Category,
		SizeBytes:       result.SizeBytes,
		TierUsed:        result.TierUsed,
		FromCache:       result.FromCache,
		RenderSuggested: result.RenderSuggested,
		Attempts:        result.Attempts,
	}
	if result.IsBinary() {
		body.Binary = result.Binary
	} else {
		body.Content = result.Text
	}
	return body
}

// Failure builds a failure reply without calling the dispatcher.
func Failure(kind crawler.ErrorKind, message string) Response {
	return respond(kind.HTTPStatus(), Body{ErrorKind: kind, Message: message})
}

func respond(status int, body Body) Response {
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{
			StatusCode: http.StatusInternalServerError,
			Body:       `{"success":false,"error_kind":"GenericFailure","message":"encode response"}`,
		}
	}
	return Response{StatusCode: status, Body: string(payload)}
}

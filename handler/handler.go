// Package handler adapts transport events to the conversation service. It
// owns request decoding, response encoding, and the error-code to HTTP
// status mapping; no orchestration logic lives here.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"admissions-agent/internal/domain"
	"admissions-agent/internal/usecase"
)

const version = "1.0.0"

// ChatService is the orchestration surface the transport depends on.
type ChatService interface {
	HandleMessage(ctx context.Context, in usecase.MessageInput) (usecase.MessageOutput, error)
	AgentControl(ctx context.Context, in usecase.AgentControlInput) error
}

// Handler serves the message, agent-control, and health routes.
type Handler struct {
	service ChatService
}

// NewHandler creates a Handler over the given service.
func NewHandler(service ChatService) (*Handler, error) {
	if service == nil {
		return nil, errors.New("handler: service must not be nil")
	}
	return &Handler{service: service}, nil
}

type messageRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	ChatbotID      string `json:"chatbot_id"`
	LeadID         string `json:"lead_id"`
	SenderKind     string `json:"emisor_tipo"`
	SenderID       string `json:"emisor_id"`
	ProgramID      string `json:"programa_id"`
}

type agentControlRequest struct {
	ConversationID  string `json:"conversation_id"`
	AgentID         string `json:"agent_id"`
	ActivateChatbot bool   `json:"activate_chatbot"`
	Message         string `json:"message"`
}

type messageResponse struct {
	Response string `json:"response"`
	Status   string `json:"status"`
}

type ackResponse struct {
	Status string `json:"status"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Handle is the Lambda entrypoint routing API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)

	status, body := h.route(ctx, event.HTTPMethod, event.Path, []byte(event.Body))
	payload, err := json.Marshal(body)
	if err != nil {
		slog.Error("encode response failed", "err", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    responseHeaders(corrID),
			Body:       `{"error":"INTERNAL_ERROR","detail":"response encoding failed"}`,
		}, nil
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    responseHeaders(corrID),
		Body:       string(payload),
	}, nil
}

func (h *Handler) route(ctx context.Context, method, path string, body []byte) (int, any) {
	switch path {
	case "/health":
		if method != http.MethodGet {
			return methodNotAllowed()
		}
		return http.StatusOK, healthResponse{Status: "ok", Version: version}
	case "/message":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		return h.processMessage(ctx, body)
	case "/agent/control":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		return h.processAgentControl(ctx, body)
	default:
		return http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Detail: "unknown route"}
	}
}

func (h *Handler) processMessage(ctx context.Context, body []byte) (int, any) {
	var req messageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return http.StatusBadRequest, errorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Detail: "request body is not valid JSON",
		}
	}

	out, err := h.service.HandleMessage(ctx, usecase.MessageInput{
		ConversationID: req.ConversationID,
		Content:        req.Content,
		ChatbotID:      req.ChatbotID,
		LeadID:         req.LeadID,
		Sender:         domain.SenderKind(req.SenderKind),
		SenderID:       req.SenderID,
		ProgramID:      req.ProgramID,
	})
	if err != nil {
		return errorStatus(err)
	}
	if out.Acknowledged {
		return http.StatusOK, ackResponse{Status: "message received"}
	}
	return http.StatusOK, messageResponse{Response: out.Response, Status: "success"}
}

func (h *Handler) processAgentControl(ctx context.Context, body []byte) (int, any) {
	var req agentControlRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return http.StatusBadRequest, errorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Detail: "request body is not valid JSON",
		}
	}

	if err := h.service.AgentControl(ctx, usecase.AgentControlInput{
		ConversationID:  req.ConversationID,
		AgentID:         req.AgentID,
		ActivateChatbot: req.ActivateChatbot,
		Message:         req.Message,
	}); err != nil {
		return errorStatus(err)
	}
	return http.StatusOK, ackResponse{Status: "control updated"}
}

func methodNotAllowed() (int, any) {
	return http.StatusMethodNotAllowed, errorResponse{
		Error:  string(usecase.ErrorInvalidInput),
		Detail: "method not allowed",
	}
}

// errorStatus maps a service error to an HTTP status and a safe payload.
// Internal error text never reaches the caller.
func errorStatus(err error) (int, any) {
	var svcErr *usecase.Error
	if !errors.As(err, &svcErr) {
		slog.Error("unexpected service error", "err", err)
		return http.StatusInternalServerError, errorResponse{
			Error:  string(usecase.ErrorInternal),
			Detail: "internal error",
		}
	}

	status := http.StatusInternalServerError
	switch svcErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorTimeout:
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		slog.Error("turn failed", "code", svcErr.Code, "reason", svcErr.Reason, "err", svcErr.Err)
	}
	return status, errorResponse{Error: string(svcErr.Code), Detail: svcErr.Reason}
}

func responseHeaders(corrID string) map[string]string {
	return map[string]string{
		"Content-Type":     "application/json",
		"X-Correlation-Id": corrID,
	}
}

// correlationID returns the caller-provided correlation header, matched
// case-insensitively, or generates one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "X-Correlation-Id") && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

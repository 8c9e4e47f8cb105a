// Package usecase implements the conversation orchestration core: per
// inbound message it sequences validation, persistence, config and history
// lookup, program-context resolution, the intent branch, response
// synthesis, and outbound persistence, under per-stage timeouts and a
// uniform failure-to-fallback policy.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"admissions-agent/internal/domain"
)

const (
	defaultStoreTimeout    = 10 * time.Second
	defaultGenerateTimeout = 30 * time.Second

	maxListedPrograms = 5
)

// Store is the record-level gateway the orchestrator depends on.
type Store interface {
	SaveMessage(ctx context.Context, msg domain.Message) error
	GetChatbotConfig(ctx context.Context, chatbotID string) (*domain.ChatbotConfig, error)
	GetConversationHistory(ctx context.Context, conversationID string) ([]string, error)
	GetAvailablePrograms(ctx context.Context) ([]domain.ProgramSummary, error)
	GetStudyPlan(ctx context.Context, programID string) (*domain.StudyPlan, error)
	GetProgramInfo(ctx context.Context, programID string) (*domain.AcademicProgram, error)
	GetProgramMentions(ctx context.Context, history []string) ([]string, error)
	UpdateConversationStatus(ctx context.Context, conversationID string, status domain.ConversationStatus) error
}

// Generator synthesizes an assistant reply. Implementations degrade to
// fallback text internally and never fail the turn.
type Generator interface {
	Generate(ctx context.Context, systemContext string, history []string, message string) string
}

// IntentDetector classifies the raw message content.
type IntentDetector interface {
	DetectStudyPlanRequest(text string) bool
}

// ChatService orchestrates one conversation turn end to end.
type ChatService struct {
	store           Store
	assistant       Generator
	intents         IntentDetector
	storeTimeout    time.Duration
	generateTimeout time.Duration
}

// MessageInput is one inbound conversation turn.
type MessageInput struct {
	ConversationID string
	Content        string
	ChatbotID      string
	LeadID         string
	Sender         domain.SenderKind
	SenderID       string
	ProgramID      string
}

// MessageOutput is the orchestrator's result. Acknowledged is set for
// agent-authored turns, which are persisted but never answered.
type MessageOutput struct {
	Response     string
	Acknowledged bool
}

// AgentControlInput toggles conversation ownership and optionally appends
// an agent-authored message.
type AgentControlInput struct {
	ConversationID  string
	AgentID         string
	ActivateChatbot bool
	Message         string
}

type ServiceOption func(*ChatService)

// WithTimeouts overrides the per-stage bounds; used by tests.
func WithTimeouts(store, generate time.Duration) ServiceOption {
	return func(s *ChatService) {
		s.storeTimeout = store
		s.generateTimeout = generate
	}
}

// NewChatService creates the orchestrator over its collaborators.
func NewChatService(store Store, assistant Generator, intents IntentDetector, opts ...ServiceOption) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if assistant == nil {
		return nil, errors.New("usecase: assistant must not be nil")
	}
	if intents == nil {
		return nil, errors.New("usecase: intent detector must not be nil")
	}
	s := &ChatService{
		store:           store,
		assistant:       assistant,
		intents:         intents,
		storeTimeout:    defaultStoreTimeout,
		generateTimeout: defaultGenerateTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HandleMessage processes one inbound turn: the inbound message is always
// persisted before any response work; agent turns stop there. Lead turns
// produce exactly one outbound chatbot message, whose persistence failure
// fails the turn (an unpersisted reply would corrupt mention-based
// resolution on the next turn).
func (s *ChatService) HandleMessage(ctx context.Context, in MessageInput) (MessageOutput, error) {
	if err := validateMessage(in); err != nil {
		return MessageOutput{}, err
	}

	senderID := in.LeadID
	if in.Sender == domain.SenderAgent {
		senderID = in.SenderID
	}
	if err := s.saveMessage(ctx, domain.Message{
		ConversationID: in.ConversationID,
		Sender:         in.Sender,
		SenderID:       senderID,
		Content:        in.Content,
	}); err != nil {
		return MessageOutput{}, storeFailure("save_inbound_message", err)
	}

	if in.Sender == domain.SenderAgent {
		return MessageOutput{Acknowledged: true}, nil
	}

	cfg, err := s.loadConfig(ctx, in.ChatbotID)
	if err != nil {
		return MessageOutput{}, err
	}

	history := s.loadHistory(ctx, in.ConversationID)
	programID := s.resolveProgram(ctx, history, in.ProgramID)

	var response string
	if s.intents.DetectStudyPlanRequest(in.Content) {
		response = s.directoryResponse(ctx, programID)
	} else {
		genCtx, cancel := context.WithTimeout(ctx, s.generateTimeout)
		response = s.assistant.Generate(genCtx, s.buildContext(ctx, cfg, programID), history, in.Content)
		cancel()
	}
	if strings.TrimSpace(response) == "" {
		return MessageOutput{}, newError(ErrorInternal, "empty_response", nil)
	}

	if err := s.saveMessage(ctx, domain.Message{
		ConversationID: in.ConversationID,
		Sender:         domain.SenderBot,
		SenderID:       in.ChatbotID,
		Content:        response,
	}); err != nil {
		return MessageOutput{}, storeFailure("save_outbound_message", err)
	}

	return MessageOutput{Response: response}, nil
}

// AgentControl toggles the conversation status and optionally persists an
// agent-authored message.
func (s *ChatService) AgentControl(ctx context.Context, in AgentControlInput) error {
	if in.ConversationID == "" || in.AgentID == "" {
		return newError(ErrorInvalidInput, "missing_required_field", nil)
	}

	status := domain.StatusAgentActive
	if in.ActivateChatbot {
		status = domain.StatusBotActive
	}

	opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	err := s.store.UpdateConversationStatus(opCtx, in.ConversationID, status)
	cancel()
	if err != nil {
		return storeFailure("update_conversation_status", err)
	}

	if in.Message != "" {
		if err := s.saveMessage(ctx, domain.Message{
			ConversationID: in.ConversationID,
			Sender:         domain.SenderAgent,
			SenderID:       in.AgentID,
			Content:        in.Message,
		}); err != nil {
			return storeFailure("save_agent_message", err)
		}
	}
	return nil
}

func validateMessage(in MessageInput) error {
	if in.ChatbotID == "" || in.ConversationID == "" || in.Content == "" {
		return newError(ErrorInvalidInput, "missing_required_field", nil)
	}
	switch in.Sender {
	case domain.SenderLead:
		if in.LeadID == "" {
			return newError(ErrorInvalidInput, "missing_lead_id", nil)
		}
	case domain.SenderAgent:
		if in.SenderID == "" {
			return newError(ErrorInvalidInput, "missing_sender_id", nil)
		}
	default:
		return newError(ErrorInvalidInput, "unknown_sender_kind", nil)
	}
	return nil
}

func (s *ChatService) saveMessage(ctx context.Context, msg domain.Message) error {
	opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.SaveMessage(opCtx, msg)
}

// loadConfig fetches the chatbot config. Missing config is a terminal
// not-found failure, not a conversational fallback.
func (s *ChatService) loadConfig(ctx context.Context, chatbotID string) (*domain.ChatbotConfig, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	cfg, err := s.store.GetChatbotConfig(opCtx, chatbotID)
	if err != nil {
		return nil, storeFailure("get_chatbot_config", err)
	}
	if cfg == nil {
		return nil, newError(ErrorNotFound, "chatbot_config_not_found", nil)
	}
	return cfg, nil
}

// loadHistory fetches prior message contents. Failure degrades to an empty
// history; context enrichment is best-effort.
func (s *ChatService) loadHistory(ctx context.Context, conversationID string) []string {
	opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	history, err := s.store.GetConversationHistory(opCtx, conversationID)
	if err != nil {
		slog.Error("history fetch failed, continuing with empty history",
			"conversation_id", conversationID, "err", err)
		return nil
	}
	return history
}

// resolveProgram decides which academic program the conversation concerns.
// An explicit non-sentinel id always wins over inference; otherwise the
// most recent mention in the history is used. Any failure resolves to "no
// program".
func (s *ChatService) resolveProgram(ctx context.Context, history []string, explicitID string) string {
	if domain.ValidProgramID(explicitID) {
		return explicitID
	}

	opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	mentions, err := s.store.GetProgramMentions(opCtx, history)
	if err != nil {
		slog.Error("program mention search failed, continuing without program context", "err", err)
		return ""
	}
	if len(mentions) == 0 {
		return ""
	}
	return mentions[len(mentions)-1]
}

// directoryResponse answers a study-plan request without calling the LLM.
func (s *ChatService) directoryResponse(ctx context.Context, programID string) string {
	if programID == "" {
		return s.programPrompt(ctx)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	plan, err := s.store.GetStudyPlan(opCtx, programID)
	cancel()
	if err != nil {
		slog.Error("study plan lookup failed", "program_id", programID, "err", err)
		plan = nil
	}
	if plan == nil {
		return s.planNotFound(ctx, programID)
	}

	title := plan.Title
	if title == "" {
		title = "el programa"
	}
	return fmt.Sprintf("Aquí puedes ver el plan de estudios de %s: %s", title, plan.DocumentURL)
}

// programPrompt asks which program the lead means, listing a few options
// when the directory has any.
func (s *ChatService) programPrompt(ctx context.Context) string {
	const question = "¿Sobre qué programa académico te gustaría conocer el plan de estudios?"

	opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	programs, err := s.store.GetAvailablePrograms(opCtx)
	cancel()
	if err != nil {
		slog.Error("program directory fetch failed", "err", err)
		return question
	}
	if len(programs) == 0 {
		return question
	}

	if len(programs) > maxListedPrograms {
		programs = programs[:maxListedPrograms]
	}
	names := make([]string, len(programs))
	for i, p := range programs {
		names[i] = "- " + p.Name
	}
	return question + " Algunos de nuestros programas son:\n" + strings.Join(names, "\n")
}

// planNotFound builds the "no plan" reply, personalized with the program
// name when the record is reachable.
func (s *ChatService) planNotFound(ctx context.Context, programID string) string {
	opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	info, err := s.store.GetProgramInfo(opCtx, programID)
	cancel()
	if err != nil {
		slog.Error("program info lookup failed", "program_id", programID, "err", err)
		info = nil
	}
	if info != nil {
		return fmt.Sprintf("Lo siento, no encontré el plan de estudios de %s. ¿Te gustaría conocer más información sobre el programa?", info.Name)
	}
	return "Lo siento, no pude encontrar el plan de estudios para ese programa académico. ¿Te gustaría conocer más información sobre el programa?"
}

// buildContext enriches the chatbot's base context with the resolved
// program's record. Enrichment failure degrades to the base context.
func (s *ChatService) buildContext(ctx context.Context, cfg *domain.ChatbotConfig, programID string) string {
	if !domain.ValidProgramID(programID) {
		return cfg.Context
	}

	opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	info, err := s.store.GetProgramInfo(opCtx, programID)
	cancel()
	if err != nil {
		slog.Error("program context enrichment failed", "program_id", programID, "err", err)
		return cfg.Context
	}
	if info == nil {
		return cfg.Context
	}

	var b strings.Builder
	b.WriteString(cfg.Context)
	fmt.Fprintf(&b, "\nContexto del programa académico %s:", info.Name)
	fmt.Fprintf(&b, "\n- Nivel: %s", info.Level)
	fmt.Fprintf(&b, "\n- Modalidad: %s", info.Modality)
	fmt.Fprintf(&b, "\n- Duración: %s", info.Duration)
	fmt.Fprintf(&b, "\n- Créditos: %d", info.Credits)
	fmt.Fprintf(&b, "\n- Descripción: %s", info.Description)
	return b.String()
}

// storeFailure maps a store error to the TIMEOUT or STORE_ERROR code.
func storeFailure(reason string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorTimeout, reason, err)
	}
	return newError(ErrorStore, reason, err)
}

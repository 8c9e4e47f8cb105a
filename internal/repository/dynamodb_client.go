package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"admissions-agent/internal/domain"
)

const (
	skPrefixMsg  = "MSG#"
	skMeta       = "META#"
	skConfig     = "CONFIG#"
	skPrefixProg = "PROGRAM#"
	skPrefixPlan = "PLAN#"
	pkPrograms   = "PROGRAM"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Store defines the record operations consumed by the conversation service.
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

// Client wraps a DynamoDB table holding conversations, messages, chatbot
// configs, academic programs, and study plans.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func chatbotPK(chatbotID string) string {
	return "CHATBOT#" + chatbotID
}

func programSK(programID string) string {
	return skPrefixProg + programID
}

func planPK(programID string) string {
	return skPrefixPlan + programID
}

// msgSK returns the sort key for a message; the layout keeps messages in
// ascending timestamp order within the conversation partition.
func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano)
}

// SaveMessage persists a message record. The timestamp is store-assigned
// when the caller left it zero.
func (c *Client) SaveMessage(ctx context.Context, msg domain.Message) error {
	if msg.ConversationID == "" || msg.Sender == "" || msg.SenderID == "" || msg.Content == "" {
		return errors.New("repository: SaveMessage: conversacion_id, emisor_tipo, emisor_id and contenido are required")
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":              &types.AttributeValueMemberS{Value: convPK(msg.ConversationID)},
			"SK":              &types.AttributeValueMemberS{Value: msgSK(ts)},
			"conversacion_id": &types.AttributeValueMemberS{Value: msg.ConversationID},
			"emisor_tipo":     &types.AttributeValueMemberS{Value: string(msg.Sender)},
			"emisor_id":       &types.AttributeValueMemberS{Value: msg.SenderID},
			"contenido":       &types.AttributeValueMemberS{Value: msg.Content},
			"timestamp":       &types.AttributeValueMemberS{Value: ts.UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveMessage: %w", err)
	}
	return nil
}

// GetChatbotConfig returns the config for a chatbot, or nil when the row
// does not exist. Only transport failures produce an error.
func (c *Client) GetChatbotConfig(ctx context.Context, chatbotID string) (*domain.ChatbotConfig, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: chatbotPK(chatbotID)},
			"SK": &types.AttributeValueMemberS{Value: skConfig},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetChatbotConfig get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}

	contexto, err := strAttr(out.Item, "contexto")
	if err != nil {
		return nil, fmt.Errorf("repository: GetChatbotConfig unmarshal: %w", err)
	}
	return &domain.ChatbotConfig{ID: chatbotID, Context: contexto}, nil
}

// GetConversationHistory returns the contents of a conversation's messages
// in ascending timestamp order. No messages is an empty slice, not an error.
func (c *Client) GetConversationHistory(ctx context.Context, conversationID string) ([]string, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetConversationHistory query: %w", err)
	}

	history := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		contenido, err := strAttr(item, "contenido")
		if err != nil {
			return nil, fmt.Errorf("repository: GetConversationHistory unmarshal: %w", err)
		}
		history = append(history, contenido)
	}
	return history, nil
}

// GetAvailablePrograms lists the program directory ordered by name.
func (c *Client) GetAvailablePrograms(ctx context.Context) ([]domain.ProgramSummary, error) {
	programs, err := c.listPrograms(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: GetAvailablePrograms: %w", err)
	}
	sort.Slice(programs, func(i, j int) bool { return programs[i].Name < programs[j].Name })
	return programs, nil
}

// GetStudyPlan returns the most recently updated active plan for a program,
// or nil when the program has no active plan. Malformed and sentinel
// program ids resolve to nil without touching the store.
func (c *Client) GetStudyPlan(ctx context.Context, programID string) (*domain.StudyPlan, error) {
	if !domain.ValidProgramID(programID) {
		return nil, nil
	}

	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: planPK(programID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixPlan},
		},
		// Newest first so the first active row wins.
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetStudyPlan query: %w", err)
	}

	for _, item := range out.Items {
		plan, err := itemToStudyPlan(programID, item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetStudyPlan unmarshal: %w", err)
		}
		if plan.Active {
			return plan, nil
		}
	}
	return nil, nil
}

// GetProgramInfo returns the full program record, or nil when the program
// does not exist or the id is malformed.
func (c *Client) GetProgramInfo(ctx context.Context, programID string) (*domain.AcademicProgram, error) {
	if !domain.ValidProgramID(programID) {
		return nil, nil
	}

	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkPrograms},
			"SK": &types.AttributeValueMemberS{Value: programSK(programID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetProgramInfo get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}

	program, err := itemToProgram(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: GetProgramInfo unmarshal: %w", err)
	}
	return program, nil
}

// GetProgramMentions scans the history for case-insensitive mentions of
// program names and returns the matching program ids in history scan order,
// so the last element is the most recent mention.
func (c *Client) GetProgramMentions(ctx context.Context, history []string) ([]string, error) {
	if len(history) == 0 {
		return nil, nil
	}
	programs, err := c.listPrograms(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: GetProgramMentions: %w", err)
	}

	var mentioned []string
	for _, entry := range history {
		lowered := strings.ToLower(entry)
		for _, p := range programs {
			if p.Name != "" && strings.Contains(lowered, strings.ToLower(p.Name)) {
				mentioned = append(mentioned, p.ID)
			}
		}
	}
	return mentioned, nil
}

// UpdateConversationStatus sets the estado field on the conversation's
// metadata record. Used only by the agent-control path.
func (c *Client) UpdateConversationStatus(ctx context.Context, conversationID string, status domain.ConversationStatus) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression: aws.String("SET estado = :estado"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":estado": &types.AttributeValueMemberS{Value: string(status)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: UpdateConversationStatus: %w", err)
	}
	return nil
}

// listPrograms queries the program partition. Order is storage order;
// callers sort when they need the directory ordering.
func (c *Client) listPrograms(ctx context.Context) ([]domain.ProgramSummary, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pkPrograms},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixProg},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query programs: %w", err)
	}

	programs := make([]domain.ProgramSummary, 0, len(out.Items))
	for _, item := range out.Items {
		id, err := strAttr(item, "id")
		if err != nil {
			return nil, fmt.Errorf("unmarshal program: %w", err)
		}
		nombre, err := strAttr(item, "nombre")
		if err != nil {
			return nil, fmt.Errorf("unmarshal program: %w", err)
		}
		nivel, _ := strAttr(item, "nivel") // allow empty
		programs = append(programs, domain.ProgramSummary{ID: id, Name: nombre, Level: nivel})
	}
	return programs, nil
}

func itemToStudyPlan(programID string, item map[string]types.AttributeValue) (*domain.StudyPlan, error) {
	titulo, _ := strAttr(item, "titulo") // allow empty
	urlImagen, _ := strAttr(item, "url_imagen")
	urlPDF, _ := strAttr(item, "url_pdf")
	active, err := boolAttr(item, "activo")
	if err != nil {
		return nil, err
	}

	var updatedAt time.Time
	if raw, err := strAttr(item, "fecha_actualizacion"); err == nil {
		updatedAt, _ = time.Parse(time.RFC3339, raw)
	}

	// The legacy image URL takes precedence over the PDF URL when both exist.
	documentURL := urlImagen
	if documentURL == "" {
		documentURL = urlPDF
	}

	return &domain.StudyPlan{
		ProgramID:   programID,
		Title:       titulo,
		DocumentURL: documentURL,
		Active:      active,
		UpdatedAt:   updatedAt,
	}, nil
}

func itemToProgram(item map[string]types.AttributeValue) (*domain.AcademicProgram, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return nil, err
	}
	nombre, err := strAttr(item, "nombre")
	if err != nil {
		return nil, err
	}
	nivel, _ := strAttr(item, "nivel")
	modalidad, _ := strAttr(item, "modalidad")
	duracion, _ := strAttr(item, "duracion")
	descripcion, _ := strAttr(item, "descripcion")
	creditos, _ := intAttr(item, "creditos")

	return &domain.AcademicProgram{
		ID:          id,
		Name:        nombre,
		Level:       nivel,
		Modality:    modalidad,
		Duration:    duracion,
		Credits:     creditos,
		Description: descripcion,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("attribute %q is not a boolean", key)
	}
	return b.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

package chat

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/genai"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/partialjson"
)

const (
	appName   = "deep-research"
	agentName = "research_assistant"
	userID    = "user"
)

const instruction = `You are a research assistant answering follow-up questions about finished researches and the user's local knowledge base.
Use get_research_report to read the report a conversation is about, list_research_history to find other researches, and search_knowledge or get_resource_content for local documents.
Cite report sources as [n] the way the report does. If the tools return nothing relevant, say so instead of guessing.`

// Service runs chat conversations backed by Postgres and an ADK agent.
type Service struct {
	DB     *database.PostgresDB
	Agent  agent.Agent
	Titler clients.Provider
	Logger *slog.Logger
}

type Conversation struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	ResearchID string    `json:"research_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// StreamEvent is one chat stream item: content, tool_call, tool_result,
// error or done.
type StreamEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Options configures NewService.
type Options struct {
	APIKey string
	Model  string
	// Titler names conversations after the first exchange; optional.
	Titler clients.Provider
}

func NewService(ctx context.Context, db *database.PostgresDB, tools *Toolset, opts Options) (*Service, error) {
	modelClient, err := gemini.NewModel(ctx, opts.Model, &genai.ClientConfig{
		APIKey: opts.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}

	assistant, err := llmagent.New(llmagent.Config{
		Name:        agentName,
		Model:       modelClient,
		Description: "A research assistant with access to reports and the knowledge base.",
		Instruction: instruction,
		Toolsets:    []tool.Toolset{tools},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	return &Service{
		DB:     db,
		Agent:  assistant,
		Titler: opts.Titler,
		Logger: slog.Default(),
	}, nil
}

// CreateConversation starts a conversation, optionally about one saved
// research.
func (s *Service) CreateConversation(ctx context.Context, researchID string) (*Conversation, error) {
	query := `INSERT INTO conversations (id, research_id) VALUES ($1, $2) RETURNING id, title, research_id, created_at, updated_at`

	conv := &Conversation{}
	err := s.DB.Pool.QueryRow(ctx, query, uuid.New(), researchID).Scan(&conv.ID, &conv.Title, &conv.ResearchID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) ListConversations(ctx context.Context) ([]Conversation, error) {
	query := `SELECT id, title, research_id, created_at, updated_at FROM conversations ORDER BY updated_at DESC`
	rows, err := s.DB.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.ResearchID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *Service) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	tag, err := s.DB.Pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s not found", id)
	}
	return nil
}

func (s *Service) GetHistory(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	query := `SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC`
	rows, err := s.DB.Pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Service) SendMessage(ctx context.Context, conversationID uuid.UUID, content string) (iter.Seq2[StreamEvent, error], error) {
	var researchID string
	if err := s.DB.Pool.QueryRow(ctx, `SELECT research_id FROM conversations WHERE id = $1`, conversationID).Scan(&researchID); err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	userMsgID := uuid.New()
	_, err := s.DB.Pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content) VALUES ($1, $2, 'user', $3)`,
		userMsgID, conversationID, content)
	if err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	sessionSvc := session.InMemoryService()
	sessionID := conversationID.String()
	createRes, err := sessionSvc.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent session: %w", err)
	}
	stored := createRes.Session

	history, err := s.GetHistory(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	if researchID != "" {
		note := fmt.Sprintf("This conversation is about the research with id %s. Read it with get_research_report before answering.", researchID)
		if err := sessionSvc.AppendEvent(ctx, stored, historyEvent("user", note)); err != nil {
			return nil, fmt.Errorf("failed to seed agent session: %w", err)
		}
	}
	for _, msg := range history {
		if msg.ID == userMsgID {
			continue
		}
		if err := sessionSvc.AppendEvent(ctx, stored, historyEvent(msg.Role, msg.Content)); err != nil {
			return nil, fmt.Errorf("failed to replay history: %w", err)
		}
	}

	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          s.Agent,
		SessionService: sessionSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	userContent := &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: content}},
	}
	log := s.logger().With("conversation_id", conversationID)

	return func(yield func(StreamEvent, error) bool) {
		log.Info("Starting agent run")
		var answer strings.Builder

		for event, err := range r.Run(ctx, userID, sessionID, userContent, agent.RunConfig{StreamingMode: agent.StreamingModeSSE}) {
			if err != nil {
				log.Error("Agent runner error", "error", err)
				yield(StreamEvent{Type: "error", Payload: err.Error()}, err)
				return
			}
			if event.LLMResponse.Content == nil {
				continue
			}
			for _, part := range event.LLMResponse.Content.Parts {
				switch {
				case part.Text != "" && !part.Thought:
					answer.WriteString(part.Text)
					if !yield(StreamEvent{Type: "content", Payload: part.Text}, nil) {
						return
					}
				case part.FunctionCall != nil:
					log.Info("Agent tool call", "tool", part.FunctionCall.Name)
					if !yield(StreamEvent{Type: "tool_call", Payload: part.FunctionCall}, nil) {
						return
					}
				case part.FunctionResponse != nil:
					log.Info("Agent tool result", "tool", part.FunctionResponse.Name)
					if !yield(StreamEvent{Type: "tool_result", Payload: part.FunctionResponse}, nil) {
						return
					}
				}
			}
		}
		log.Info("Agent run completed", "answer_len", answer.Len())

		_, err := s.DB.Pool.Exec(ctx,
			`INSERT INTO messages (id, conversation_id, role, content) VALUES ($1, $2, 'model', $3)`,
			uuid.New(), conversationID, answer.String())
		if err != nil {
			log.Error("Failed to save model message", "error", err)
		} else {
			_, _ = s.DB.Pool.Exec(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID)
		}

		yield(StreamEvent{Type: "done", Payload: "done"}, nil)

		if len(history) <= 2 && s.Titler != nil {
			go s.generateTitle(conversationID, content, answer.String())
		}
	}, nil
}

func historyEvent(role, text string) *session.Event {
	author := "user"
	if role == "model" {
		author = agentName
	} else {
		role = genai.RoleUser
	}
	evt := session.NewEvent(uuid.NewString())
	evt.Author = author
	evt.LLMResponse = model.LLMResponse{
		Content: &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: text}},
		},
	}
	return evt
}

func (s *Service) generateTitle(convID uuid.UUID, userMsg, modelMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	prompt := fmt.Sprintf(`Generate a short, concise title (max 5 words) for this chat conversation.
Respond with JSON like {"title": "..."} and nothing else.
User: %s
Model: %s`, userMsg, modelMsg)

	var raw strings.Builder
	for part, err := range s.Titler.Stream(ctx, clients.Request{Prompt: prompt}) {
		if err != nil {
			s.logger().Error("Failed to generate conversation title", "error", err)
			return
		}
		if part.Type == clients.PartTextDelta {
			raw.WriteString(part.Text)
		}
	}

	title := parseTitle(raw.String())
	if title == "" {
		s.logger().Warn("Title generation returned no title", "raw", raw.String())
		return
	}
	if _, err := s.DB.Pool.Exec(ctx, `UPDATE conversations SET title = $2 WHERE id = $1`, convID, title); err != nil {
		s.logger().Error("Failed to update conversation title", "error", err)
	}
}

// parseTitle reads {"title": ...} from a model answer, falling back to the
// first line of plain text.
func parseTitle(text string) string {
	res := partialjson.Parse(partialjson.StripMarkdown(text))
	if res.Accepted() {
		if obj, ok := res.Value.(map[string]any); ok {
			title, _ := obj["title"].(string)
			return strings.TrimSpace(title)
		}
	}
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(line), `"#*`))
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

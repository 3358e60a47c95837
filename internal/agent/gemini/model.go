// Package gemini implements the agent's language-model capability on the
// Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-analyst/internal/agent"
	"github.com/dvloznov/finance-analyst/internal/logger"
	"google.golang.org/genai"
)

// DefaultModelName is used when no model is configured.
const DefaultModelName = "gemini-2.5-flash"

const (
	queryToolName = "query_financial_database"
	maxHistory    = 20
)

// errUnreadable marks a reply that arrived but could not be used. Callers
// turn it into an empty draft or a rejected verdict so the workflow repairs
// instead of ending the turn.
var errUnreadable = errors.New("unreadable model response")

// generator is the part of genai.Models the capability uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Model implements agent.Model.
type Model struct {
	gen     generator
	name    string
	prompts *Prompts
}

// New creates a Gemini client. An empty apiKey lets the SDK read
// GOOGLE_API_KEY / GEMINI_API_KEY from the environment.
func New(ctx context.Context, apiKey, modelName string) (*Model, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini.New: create genai client: %w", err)
	}
	return newModel(client.Models, modelName, DefaultPrompts()), nil
}

func newModel(gen generator, modelName string, prompts *Prompts) *Model {
	if modelName == "" {
		modelName = DefaultModelName
	}
	return &Model{gen: gen, name: modelName, prompts: prompts}
}

var queryTool = &genai.Tool{
	FunctionDeclarations: []*genai.FunctionDeclaration{{
		Name: queryToolName,
		Description: "Query the financial database using natural language. Use this whenever the " +
			"user needs actual figures: revenue, expenses, cost of goods sold, profit, margins, " +
			"top accounts, categories, trends or comparisons between periods.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"question": {
					Type:        genai.TypeString,
					Description: "Standalone natural-language question about the financial data",
				},
			},
			Required: []string{"question"},
		},
	}},
}

// Decide implements agent.Model. The model either calls the query tool or
// answers in text.
func (m *Model) Decide(ctx context.Context, history []agent.Message, dates agent.DateContext) (agent.Decision, error) {
	system, err := m.prompts.Render("system", systemData{Dates: dates})
	if err != nil {
		return nil, err
	}

	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		role := "user"
		if msg.Role == agent.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	resp, err := m.gen.GenerateContent(ctx, m.name, contents, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		Tools:             []*genai.Tool{queryTool},
		Temperature:       temperature(0.2),
	})
	if err != nil {
		return nil, fmt.Errorf("Decide: generate content: %w", err)
	}

	for _, call := range resp.FunctionCalls() {
		if call.Name != queryToolName {
			continue
		}
		q, _ := call.Args["question"].(string)
		return agent.NeedsQuery{Question: q}, nil
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("Decide: empty response from model")
	}
	return agent.AnswerDirectly{Text: text}, nil
}

type sqlDraft struct {
	Query       string `json:"query"`
	Explanation string `json:"explanation"`
}

type sqlVerdict struct {
	Valid  bool   `json:"valid"`
	Query  string `json:"query"`
	Reason string `json:"reason"`
}

// WriteQuery implements agent.Model.
func (m *Model) WriteQuery(ctx context.Context, req agent.QueryRequest) (string, error) {
	prompt, err := m.prompts.Render("write", writeData{req})
	if err != nil {
		return "", err
	}

	var draft sqlDraft
	if err := m.generateJSON(ctx, "WriteQuery", prompt, &draft); err != nil {
		if errors.Is(err, errUnreadable) {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Msg("WriteQuery: no usable draft")
			return "", nil
		}
		return "", err
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("sql", draft.Query).
		Str("explanation", draft.Explanation).
		Msg("WriteQuery: drafted query")
	return strings.TrimSpace(draft.Query), nil
}

// CheckQuery implements agent.Model.
func (m *Model) CheckQuery(ctx context.Context, req agent.CheckRequest) (agent.Verdict, error) {
	prompt, err := m.prompts.Render("check", checkData{req})
	if err != nil {
		return nil, err
	}

	var v sqlVerdict
	if err := m.generateJSON(ctx, "CheckQuery", prompt, &v); err != nil {
		if errors.Is(err, errUnreadable) {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Msg("CheckQuery: no usable verdict")
			return agent.Invalid{Reason: "the query check returned an unreadable verdict"}, nil
		}
		return nil, err
	}

	if !v.Valid {
		return agent.Invalid{Reason: strings.TrimSpace(v.Reason)}, nil
	}
	return agent.Valid{SQL: strings.TrimSpace(v.Query)}, nil
}

// RepairQuery implements agent.Model.
func (m *Model) RepairQuery(ctx context.Context, req agent.RepairRequest) (string, error) {
	prompt, err := m.prompts.Render("repair", repairData{req})
	if err != nil {
		return "", err
	}

	var draft sqlDraft
	if err := m.generateJSON(ctx, "RepairQuery", prompt, &draft); err != nil {
		if errors.Is(err, errUnreadable) {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Msg("RepairQuery: no usable draft")
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(draft.Query), nil
}

// Respond implements agent.Model.
func (m *Model) Respond(ctx context.Context, req agent.RespondRequest) (string, error) {
	prompt, err := m.prompts.Render("respond", respondData{
		Question:  req.Question,
		SQL:       req.SQL,
		Rows:      req.Rows,
		Truncated: req.Truncated,
		Table:     resultTable(req.Columns, req.Rows),
	})
	if err != nil {
		return "", err
	}

	resp, err := m.gen.GenerateContent(ctx, m.name, userText(prompt), &genai.GenerateContentConfig{
		Temperature: temperature(0.3),
	})
	if err != nil {
		return "", fmt.Errorf("Respond: generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("Respond: empty response from model")
	}
	return text, nil
}

func (m *Model) generateJSON(ctx context.Context, op, prompt string, v interface{}) error {
	resp, err := m.gen.GenerateContent(ctx, m.name, userText(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      temperature(0),
	})
	if err != nil {
		return fmt.Errorf("%s: generate content: %w", op, err)
	}

	rawText := resp.Text()
	if strings.TrimSpace(rawText) == "" {
		return fmt.Errorf("%s: %w: empty response", op, errUnreadable)
	}

	// Clean up Markdown fences / extra text if the model ignored instructions.
	clean := cleanModelJSON(rawText)
	if err := json.Unmarshal([]byte(clean), v); err != nil {
		return fmt.Errorf("%s: %w: unmarshal JSON: %v\nraw response: %s", op, errUnreadable, err, rawText)
	}
	return nil
}

func userText(text string) []*genai.Content {
	return []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: text}},
	}}
}

func temperature(t float32) *float32 { return &t }

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the outermost JSON object if there is junk around it.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}

// Ensure Model implements agent.Model.
var _ agent.Model = (*Model)(nil)

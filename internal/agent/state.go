// Package agent turns a natural-language question into a validated,
// executed and, when needed, repaired SQL query against the financial
// warehouse, and composes the answer.
//
// The workflow is a graph of nodes over an immutable State. Nodes never
// mutate the State they receive; they return an Update that the engine
// merges.
package agent

// Role says who wrote a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// State is the record threaded through every node of one conversation.
type State struct {
	ThreadID string `json:"thread_id"`
	Node     string `json:"node"`
	Status   string `json:"status"`

	Question  string   `json:"question"`
	Relations []string `json:"relations,omitempty"`
	Schema    string   `json:"schema,omitempty"`

	SQL        string `json:"sql,omitempty"`
	CheckedSQL string `json:"checked_sql,omitempty"`
	QueryError string `json:"query_error,omitempty"`
	Retries    int    `json:"retries"`

	ResultData    []map[string]interface{} `json:"result_data,omitempty"`
	ResultColumns []string                 `json:"result_columns,omitempty"`
	ResultCount   int                      `json:"result_count"`
	Truncated     bool                     `json:"truncated,omitempty"`

	Answer   string    `json:"answer,omitempty"`
	Messages []Message `json:"messages"`
}

// Update is a partial change to State. Nil fields leave the State untouched;
// Messages are appended, everything else replaces.
type Update struct {
	Node   *string
	Status *string

	Question  *string
	Relations *[]string
	Schema    *string

	SQL        *string
	CheckedSQL *string
	QueryError *string
	Retries    *int

	Result *Result

	Answer   *string
	Messages []Message
}

// Merge returns a new State with u applied. s is not modified.
func (s State) Merge(u Update) State {
	next := s.Clone()

	if u.Node != nil {
		next.Node = *u.Node
	}
	if u.Status != nil {
		next.Status = *u.Status
	}
	if u.Question != nil {
		next.Question = *u.Question
	}
	if u.Relations != nil {
		next.Relations = append([]string(nil), (*u.Relations)...)
	}
	if u.Schema != nil {
		next.Schema = *u.Schema
	}
	if u.SQL != nil {
		next.SQL = *u.SQL
	}
	if u.CheckedSQL != nil {
		next.CheckedSQL = *u.CheckedSQL
	}
	if u.QueryError != nil {
		next.QueryError = *u.QueryError
	}
	if u.Retries != nil {
		next.Retries = *u.Retries
	}
	if u.Result != nil {
		r := u.Result.clone()
		next.ResultData = r.Rows
		next.ResultColumns = r.Columns
		next.ResultCount = len(r.Rows)
		next.Truncated = r.Truncated
	}
	if u.Answer != nil {
		next.Answer = *u.Answer
	}
	if len(u.Messages) > 0 {
		next.Messages = append(next.Messages, u.Messages...)
	}

	return next
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	c := s
	if s.Relations != nil {
		c.Relations = append([]string(nil), s.Relations...)
	}
	if s.ResultColumns != nil {
		c.ResultColumns = append([]string(nil), s.ResultColumns...)
	}
	if s.ResultData != nil {
		c.ResultData = cloneRows(s.ResultData)
	}
	if s.Messages != nil {
		c.Messages = append(make([]Message, 0, len(s.Messages)+2), s.Messages...)
	}
	return c
}

// LastUserMessage returns the most recent user message, or "".
func (s State) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// newTurn resets the per-question fields and records the user's message.
func newTurn(message string) Update {
	empty := ""
	zero := 0
	return Update{
		Status:     strp("thinking..."),
		Question:   &empty,
		Relations:  &[]string{},
		SQL:        &empty,
		CheckedSQL: &empty,
		QueryError: &empty,
		Retries:    &zero,
		Result:     &Result{},
		Answer:     &empty,
		Messages:   []Message{{Role: RoleUser, Content: message}},
	}
}

func strp(s string) *string { return &s }

func intp(n int) *int { return &n }

func cloneRows(rows []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		m := make(map[string]interface{}, len(row))
		for k, v := range row {
			m[k] = v
		}
		out[i] = m
	}
	return out
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// Decision is the language model's choice at the start of a turn.
type Decision interface{ isDecision() }

// AnswerDirectly means the message needs no data access.
type AnswerDirectly struct{ Text string }

// NeedsQuery means the message needs data. Question is the standalone
// question to answer, rewritten with any context from earlier turns.
type NeedsQuery struct{ Question string }

func (AnswerDirectly) isDecision() {}
func (NeedsQuery) isDecision()     {}

// Verdict is the language model's judgement of a drafted query.
type Verdict interface{ isVerdict() }

// Valid carries the query to execute. The checker may return a corrected
// spelling of the draft; an empty SQL keeps the draft as is.
type Valid struct{ SQL string }

// Invalid carries the reason the draft was rejected.
type Invalid struct{ Reason string }

func (Valid) isVerdict()   {}
func (Invalid) isVerdict() {}

// DateContext anchors relative date expressions ("this year", "last
// quarter") in the prompts. The engine never resolves them itself.
type DateContext struct {
	Today   civil.Date
	Year    int
	Quarter int
}

// NewDateContext builds the date context for t.
func NewDateContext(t time.Time) DateContext {
	d := civil.DateOf(t)
	return DateContext{
		Today:   d,
		Year:    d.Year,
		Quarter: (int(d.Month)-1)/3 + 1,
	}
}

// YearQuarter formats the current quarter the way the warehouse does.
func (d DateContext) YearQuarter() string {
	return fmt.Sprintf("%04d-Q%d", d.Year, d.Quarter)
}

// QueryRequest asks for one SQL statement answering Question.
type QueryRequest struct {
	Question string
	Schema   string
	Dialect  string
	RowLimit int
	Dates    DateContext
}

// CheckRequest asks whether SQL is consistent with Schema and answers Question.
type CheckRequest struct {
	Question string
	SQL      string
	Schema   string
	Dialect  string
}

// RepairRequest asks for a corrected version of SQL given the error it hit.
type RepairRequest struct {
	Question string
	SQL      string
	Error    string
	Schema   string
	Dialect  string
	RowLimit int
	Dates    DateContext
}

// RespondRequest asks for the user-facing answer built from query results.
type RespondRequest struct {
	Question  string
	SQL       string
	Columns   []string
	Rows      []map[string]interface{}
	Truncated bool
	History   []Message
}

// Model is the language-model capability. Every method is one prompt and
// one typed result; the graph never sees raw model output.
type Model interface {
	Decide(ctx context.Context, history []Message, dates DateContext) (Decision, error)
	WriteQuery(ctx context.Context, req QueryRequest) (string, error)
	CheckQuery(ctx context.Context, req CheckRequest) (Verdict, error)
	RepairQuery(ctx context.Context, req RepairRequest) (string, error)
	Respond(ctx context.Context, req RespondRequest) (string, error)
}

// CapabilityError wraps a failed language-model call. It is never retried by
// the repair loop.
type CapabilityError struct {
	Op  string
	Err error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("language model %s: %v", e.Op, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// IsCapabilityError reports whether err came from the language model.
func IsCapabilityError(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-analyst/internal/logger"
)

// NodeName identifies a step of the workflow.
type NodeName string

const (
	NodeChat           NodeName = "chat"
	NodeDiscoverSchema NodeName = "discover_schema"
	NodeFetchSchema    NodeName = "fetch_schema"
	NodeWriteQuery     NodeName = "write_query"
	NodeCheckQuery     NodeName = "check_query"
	NodeExecQuery      NodeName = "exec_query"
	NodeRepairQuery    NodeName = "repair_query"
	NodeRespond        NodeName = "respond"

	// End terminates the turn.
	End NodeName = "__end__"
)

// Progress labels shown to the user while a node runs.
var statusLabels = map[NodeName]string{
	NodeChat:           "Thinking...",
	NodeDiscoverSchema: "Analyzing database schema...",
	NodeFetchSchema:    "Loading relevant data views...",
	NodeWriteQuery:     "Writing SQL query...",
	NodeCheckQuery:     "Validating query...",
	NodeExecQuery:      "Executing query...",
	NodeRepairQuery:    "Fixing query...",
	NodeRespond:        "Composing answer...",
}

// StatusDone is the status of a finished turn.
const StatusDone = "Response generated"

// Node is one step of the workflow. It returns its partial update and the
// node to run next.
type Node interface {
	Run(ctx context.Context, s State) (Update, NodeName, error)
}

// NodeFunc adapts a function to Node.
type NodeFunc func(ctx context.Context, s State) (Update, NodeName, error)

func (f NodeFunc) Run(ctx context.Context, s State) (Update, NodeName, error) { return f(ctx, s) }

// EmitFunc receives every state snapshot of a turn, in order.
type EmitFunc func(State) error

// ErrStepLimit is returned when a turn visits more nodes than the graph allows.
var ErrStepLimit = errors.New("agent step limit exceeded")

const (
	unavailableAnswer = "Sorry, the assistant's language service is unavailable right now. " +
		"Please try again in a moment; your conversation has been kept."
	storeUnavailableAnswer = "Sorry, I couldn't reach the financial database right now. " +
		"Please try again in a moment."
)

// Graph runs nodes from an entry point until one routes to End.
type Graph struct {
	nodes    map[NodeName]Node
	entry    NodeName
	maxSteps int
}

// NewGraph builds a graph. maxSteps bounds the number of node visits per turn.
func NewGraph(entry NodeName, nodes map[NodeName]Node, maxSteps int) *Graph {
	if maxSteps <= 0 {
		maxSteps = 50
	}
	return &Graph{nodes: nodes, entry: entry, maxSteps: maxSteps}
}

// Run drives s through the graph. Before each node runs, its status label
// is set and a snapshot is emitted; the final snapshot is emitted once the
// turn ends. A node failure ends the turn with a plain-language answer
// instead of an error; only cancellation, emit failures and a runaway graph
// are returned as errors.
func (g *Graph) Run(ctx context.Context, s State, emit EmitFunc) (State, error) {
	log := logger.FromContext(ctx)
	if emit == nil {
		emit = func(State) error { return nil }
	}

	current := g.entry
	for step := 0; ; step++ {
		if current == End {
			s = s.Merge(Update{Node: strp(string(End)), Status: strp(StatusDone)})
			if err := emit(s); err != nil {
				return s, err
			}
			return s, nil
		}
		if step >= g.maxSteps {
			return s, fmt.Errorf("Graph.Run: %w after %d steps", ErrStepLimit, step)
		}

		node, ok := g.nodes[current]
		if !ok {
			return s, fmt.Errorf("Graph.Run: unknown node %q", current)
		}

		label := statusLabels[current]
		if label == "" {
			label = string(current)
		}
		s = s.Merge(Update{Node: strp(string(current)), Status: &label})
		if err := emit(s); err != nil {
			return s, err
		}

		upd, next, err := node.Run(ctx, s)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s, ctxErr
			}
			log.Error().
				Err(err).
				Str("thread_id", s.ThreadID).
				Str("node", string(current)).
				Msg("Graph.Run: node failed")

			answer := storeUnavailableAnswer
			if IsCapabilityError(err) {
				answer = unavailableAnswer
			}
			s = s.Merge(Update{
				Answer:   &answer,
				Messages: []Message{{Role: RoleAssistant, Content: answer}},
			})
			current = End
			continue
		}

		s = s.Merge(upd)
		log.Debug().
			Str("thread_id", s.ThreadID).
			Str("node", string(current)).
			Str("next", string(next)).
			Int("retries", s.Retries).
			Msg("Graph.Run: node finished")
		current = next
	}
}

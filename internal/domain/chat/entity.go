package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ComponentKind is the explicit tag of a Component.
type ComponentKind string

const (
	KindAnalysis         ComponentKind = "analysis_result"
	KindDatabaseAnalysis ComponentKind = "database_analysis_result"
	KindCharts           ComponentKind = "charts_result"
	KindBusinessInsight  ComponentKind = "business_insight_result"
	KindEnhancedQuestion ComponentKind = "enhanced_question"
)

// EnhancedQuestion is the question rewritten with conversation context.
type EnhancedQuestion struct {
	EnhancedUserMessage string `json:"enhanced_user_message"`
}

// Component is a closed union of the results attached to a chat turn.
// Exactly one payload field is set, matching Kind.
type Component struct {
	Kind     ComponentKind
	Analysis *analysis.AnalysisResult
	Charts   *analysis.ChartResult
	Insight  *analysis.BusinessInsightResult
	Enhanced *EnhancedQuestion
}

func AnalysisComponent(r *analysis.AnalysisResult) Component {
	return Component{Kind: KindAnalysis, Analysis: r}
}

func DatabaseAnalysisComponent(r *analysis.AnalysisResult) Component {
	return Component{Kind: KindDatabaseAnalysis, Analysis: r}
}

func ChartsComponent(r *analysis.ChartResult) Component {
	return Component{Kind: KindCharts, Charts: r}
}

func InsightComponent(r *analysis.BusinessInsightResult) Component {
	return Component{Kind: KindBusinessInsight, Insight: r}
}

func EnhancedQuestionComponent(q string) Component {
	return Component{Kind: KindEnhancedQuestion, Enhanced: &EnhancedQuestion{EnhancedUserMessage: q}}
}

// Status returns the payload's status; an enhanced question always succeeds.
func (c Component) Status() analysis.Status {
	switch c.Kind {
	case KindAnalysis, KindDatabaseAnalysis:
		return c.Analysis.Status()
	case KindCharts:
		return c.Charts.Status()
	case KindBusinessInsight:
		return c.Insight.Status()
	}
	return analysis.StatusSuccess
}

func (c Component) payload() (any, error) {
	var p any
	switch c.Kind {
	case KindAnalysis, KindDatabaseAnalysis:
		if c.Analysis != nil {
			p = c.Analysis
		}
	case KindCharts:
		if c.Charts != nil {
			p = c.Charts
		}
	case KindBusinessInsight:
		if c.Insight != nil {
			p = c.Insight
		}
	case KindEnhancedQuestion:
		if c.Enhanced != nil {
			p = c.Enhanced
		}
	default:
		return nil, fmt.Errorf("unknown component kind %q", c.Kind)
	}
	if p == nil {
		return nil, fmt.Errorf("component %q has no payload", c.Kind)
	}
	return p, nil
}

type componentWire struct {
	Kind ComponentKind   `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (c Component) MarshalJSON() ([]byte, error) {
	p, err := c.payload()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(componentWire{Kind: c.Kind, Data: data})
}

func (c *Component) UnmarshalJSON(b []byte) error {
	var w componentWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := Component{Kind: w.Kind}
	var target any
	switch w.Kind {
	case KindAnalysis, KindDatabaseAnalysis:
		out.Analysis = &analysis.AnalysisResult{}
		target = out.Analysis
	case KindCharts:
		out.Charts = &analysis.ChartResult{}
		target = out.Charts
	case KindBusinessInsight:
		out.Insight = &analysis.BusinessInsightResult{}
		target = out.Insight
	case KindEnhancedQuestion:
		out.Enhanced = &EnhancedQuestion{}
		target = out.Enhanced
	default:
		return fmt.Errorf("unknown component kind %q", w.Kind)
	}
	if err := json.Unmarshal(w.Data, target); err != nil {
		return fmt.Errorf("component %q: %w", w.Kind, err)
	}
	*c = out
	return nil
}

// Message is one turn of the analyst conversation. Components are owned by
// the message.
type Message struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Components []Component `json:"components"`
	CreatedAt  time.Time   `json:"created_at"`
}

// TransportMessage is the role+content projection sent to the LLM.
type TransportMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func (m Message) Transport() TransportMessage {
	return TransportMessage{Role: m.Role, Content: m.Content}
}

// Transport strips components from every message, preserving order.
func Transport(msgs []Message) []TransportMessage {
	out := make([]TransportMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.Transport()
	}
	return out
}

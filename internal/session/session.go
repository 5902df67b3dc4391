package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status int

const (
	Processing Status = iota
	Completed
	Failed
)

var statusNames = map[Status]string{
	Processing: "processing",
	Completed:  "completed",
	Failed:     "failed",
}

var statusFromName = map[string]Status{
	"processing": Processing,
	"completed":  Completed,
	"failed":     Failed,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := statusFromName[name]; ok {
		*s = v
	}
	return nil
}

type Mode string

const (
	ModeDirect    Mode = "direct"
	ModeAugmented Mode = "augmented"
)

// Step is one entry in a session's audit trail. Steps are append-only;
// existing entries are never rewritten.
type Step struct {
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
}

// ContextSource is a compact record of one retrieval document consulted
// during augmented analysis. The document text itself is not retained.
type ContextSource struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"promptTokenCount"`
	CandidatesTokens int `json:"candidatesTokenCount"`
	TotalTokens      int `json:"totalTokenCount"`
}

// Result holds the outcome of a completed analysis. Mode records whether the
// analysis ran direct or context-augmented; Context lists the sources
// consulted in augmented mode.
type Result struct {
	Mode             Mode              `json:"mode"`
	Sections         map[string]string `json:"sections"`
	RawText          string            `json:"rawText"`
	Usage            Usage             `json:"usage"`
	Context          []ContextSource   `json:"context,omitempty"`
	ProcessingTimeMS int64             `json:"processingTime"`
}

type Error struct {
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session tracks one analysis request end-to-end. Exactly one of Result /
// Error is set once Status leaves Processing.
type Session struct {
	ID            string     `json:"id"`
	TextRef       string     `json:"textId"`
	Status        Status     `json:"status"`
	UseRetrieval  bool       `json:"useRetrieval"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastUpdatedAt time.Time  `json:"lastUpdatedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	Steps         []Step     `json:"steps"`
	Result        *Result    `json:"result,omitempty"`
	Error         *Error     `json:"error,omitempty"`
}

func (s *Session) IsTerminal() bool {
	return s.Status == Completed || s.Status == Failed
}

// NewID returns a fresh session identifier. UUIDv4 keeps collision odds
// negligible for the process lifetime.
func NewID() string {
	return uuid.NewString()
}

// Clone returns a deep copy of the Session, duplicating pointer, slice and
// map fields so the copy can be mutated independently of the original.
func (s *Session) Clone() *Session {
	c := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if len(s.Steps) > 0 {
		c.Steps = make([]Step, len(s.Steps))
		copy(c.Steps, s.Steps)
	}
	if s.Result != nil {
		r := *s.Result
		if len(s.Result.Sections) > 0 {
			r.Sections = make(map[string]string, len(s.Result.Sections))
			for k, v := range s.Result.Sections {
				r.Sections[k] = v
			}
		}
		if len(s.Result.Context) > 0 {
			r.Context = make([]ContextSource, len(s.Result.Context))
			for i, src := range s.Result.Context {
				r.Context[i] = src.clone()
			}
		}
		c.Result = &r
	}
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	return &c
}

func (cs ContextSource) clone() ContextSource {
	if len(cs.Metadata) > 0 {
		m := make(map[string]any, len(cs.Metadata))
		for k, v := range cs.Metadata {
			m[k] = v
		}
		cs.Metadata = m
	}
	return cs
}

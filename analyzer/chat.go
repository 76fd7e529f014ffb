// Package analyzer answers questions about the monitored account with an LLM,
// reusing earlier answers to the same question while they are recent.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/illenko/relicwatch/cache"
	"github.com/illenko/relicwatch/metrics"
	"github.com/illenko/relicwatch/models"
)

const (
	DefaultHistoryTTL = 24 * time.Hour
	maxPromptEntities = 200
)

const ErrEmptyQuestion = chatError("question is empty")

type chatError string

func (e chatError) Error() string { return string(e) }

// SnapshotSource is implemented by query.Facade.
type SnapshotSource interface {
	GetCache(ctx context.Context) *models.Snapshot
}

// History is implemented by storage.HistoryRepository.
type History interface {
	Save(ctx context.Context, rec models.QueryRecord) error
	FindSince(ctx context.Context, question string, since time.Time) (*models.QueryRecord, error)
	List(ctx context.Context, limit int) ([]models.QueryRecord, error)
}

type Config struct {
	HistoryTTL time.Duration
	Store      *cache.Store
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

type Chat struct {
	source    SnapshotSource
	generator Generator
	history   History
	store     *cache.Store
	metrics   *metrics.Metrics
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Reply is either a DataReply or a MessageReply.
type Reply interface {
	isReply()
}

// DataReply holds a structured answer the model returned as a JSON object.
type DataReply struct {
	Data map[string]any
}

// MessageReply holds a plain text answer.
type MessageReply struct {
	Text string
}

func (DataReply) isReply() {}
func (MessageReply) isReply() {}

// ParseReply classifies raw model output. Fenced JSON blocks are unwrapped first.
func ParseReply(raw string) Reply {
	text := strings.TrimSpace(raw)
	body := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(text, "```json"), "```"), "```"))

	if strings.HasPrefix(body, "{") {
		var data map[string]any
		if err := json.Unmarshal([]byte(body), &data); err == nil {
			return DataReply{Data: data}
		}
	}
	return MessageReply{Text: text}
}

// Answer is what the chat endpoint returns.
type Answer struct {
	ID       string         `json:"id"`
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Data     map[string]any `json:"data,omitempty"`
	Source   string         `json:"source"`
	AskedAt  time.Time      `json:"asked_at"`
}

const (
	SourceHistory = "history"
	SourceLLM     = "llm"
)

func NewChat(source SnapshotSource, generator Generator, history History, cfg Config) *Chat {
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = DefaultHistoryTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Chat{
		source:    source,
		generator: generator,
		history:   history,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		ttl:       cfg.HistoryTTL,
		now:       cfg.Now,
		logger:    slog.Default().With("component", "analyzer"),
	}
}

// Ask answers question from history when it was asked within the TTL, otherwise
// from the model over the current snapshot.
func (c *Chat) Ask(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	if c.history != nil {
		rec, err := c.history.FindSince(ctx, question, c.now().Add(-c.ttl))
		if err != nil {
			c.logger.Warn("failed to look up history", "error", err)
		} else if rec != nil {
			c.logger.Debug("answering from history", "id", rec.ID)
			c.metrics.ObserveChat(SourceHistory)
			return newAnswer(*rec, SourceHistory), nil
		}
	}

	snap := c.source.GetCache(ctx)
	raw, err := c.generator.Generate(ctx, BuildPrompt(question, snap))
	if err != nil {
		c.metrics.ObserveChat("error")
		return nil, fmt.Errorf("failed to answer question: %w", err)
	}

	rec := models.QueryRecord{
		ID:       uuid.NewString(),
		Question: question,
		Answer:   strings.TrimSpace(raw),
		AskedAt:  c.now(),
	}

	if c.history != nil {
		if err := c.history.Save(ctx, rec); err != nil {
			c.logger.Error("failed to save answer", "error", err)
		}
	}
	if c.store != nil {
		c.store.RecordQuery(rec)
	}

	c.metrics.ObserveChat(SourceLLM)
	c.logger.Info("question answered", "id", rec.ID, "entities", len(snap.Entities))
	return newAnswer(rec, SourceLLM), nil
}

// Recent lists the latest answered questions.
func (c *Chat) Recent(ctx context.Context, limit int) ([]models.QueryRecord, error) {
	if c.history == nil {
		return []models.QueryRecord{}, nil
	}
	return c.history.List(ctx, limit)
}

func newAnswer(rec models.QueryRecord, source string) *Answer {
	a := &Answer{
		ID:       rec.ID,
		Question: rec.Question,
		Answer:   rec.Answer,
		Source:   source,
		AskedAt:  rec.AskedAt,
	}
	switch r := ParseReply(rec.Answer).(type) {
	case DataReply:
		a.Data = r.Data
	case MessageReply:
		a.Answer = r.Text
	}
	return a
}

// BuildPrompt renders the snapshot as context for the question.
func BuildPrompt(question string, snap *models.Snapshot) string {
	var sb strings.Builder

	sb.WriteString("## Snapshot\n")
	if snap == nil || snap.IsEmpty() {
		sb.WriteString("No monitoring data is cached yet.\n")
	} else {
		fmt.Fprintf(&sb, "Updated: %s\n", snap.Timestamp.Format(time.RFC3339))
		fmt.Fprintf(&sb, "Entities: %d\n", len(snap.Entities))

		counts := cache.CountByDomain(snap.Entities)
		for _, d := range models.Domains {
			if n := counts[d]; n > 0 {
				fmt.Fprintf(&sb, "- %s: %d\n", d, n)
			}
		}

		sb.WriteString("\n## Entities\n")
		for i, e := range snap.Entities {
			if i == maxPromptEntities {
				fmt.Fprintf(&sb, "... %d more\n", len(snap.Entities)-i)
				break
			}
			fmt.Fprintf(&sb, "- %s (%s, %s)%s\n", e.Name, e.Domain, e.GUID, formatMetrics(e))
		}

		if raw, ok := snap.Aux[models.AuxIncidents]; ok && len(raw) > 0 {
			sb.WriteString("\n## Incidents\n")
			sb.Write(raw)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n## Question\n")
	sb.WriteString(question)
	sb.WriteString("\n")
	return sb.String()
}

func formatMetrics(e models.Entity) string {
	bundle := e.Metrics[models.Window30Min]
	if len(bundle) == 0 {
		return ""
	}

	names := make([]string, 0, len(bundle))
	for name := range bundle {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		if v := bundle[name]; v != nil {
			parts = append(parts, fmt.Sprintf("%s=%.2f", name, *v))
		} else {
			parts = append(parts, name+"=null")
		}
	}
	return " " + strings.Join(parts, " ")
}

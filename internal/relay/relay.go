package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"docchat/internal/logger"
	"docchat/internal/models"
	"docchat/internal/observability"
	"docchat/internal/service/ai"
)

const (
	DefaultTitle         = "New Chat"
	titleMaxRunes        = 50
	defaultModelTimeout  = 2 * time.Minute
	defaultCommitTimeout = 10 * time.Second
)

var (
	// ErrNoMessages is returned when a turn carries no user message.
	ErrNoMessages = errors.New("missing messages")
	// ErrModelStream marks a model call that failed to start, errored
	// mid-stream or produced no text.
	ErrModelStream = errors.New("model stream failure")
)

// State is the lifecycle position of a chat turn.
type State int

const (
	Idle State = iota
	UserPersisted
	Streaming
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case UserPersisted:
		return "user_persisted"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Store is the subset of the catalog a turn needs.
type Store interface {
	CreateChat(ctx context.Context, ownerID, title string) (*models.Chat, error)
	GetChat(ctx context.Context, ownerID, chatID string) (*models.Chat, error)
	AddMessage(ctx context.Context, chatID string, role models.Role, content string) (*models.Message, error)
	ListSyncedDocuments(ctx context.Context) ([]models.Document, error)
}

// ChunkWriter receives model text as it arrives.
type ChunkWriter interface {
	WriteChunk(chunk string) error
}

// ChunkWriterFunc adapts a function to ChunkWriter.
type ChunkWriterFunc func(chunk string) error

func (f ChunkWriterFunc) WriteChunk(chunk string) error { return f(chunk) }

type Option func(*Relay)

// WithModelTimeout bounds a whole model stream.
func WithModelTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.modelTimeout = d
		}
	}
}

// WithSystemPrompt replaces the default prompt preamble.
func WithSystemPrompt(prompt string) Option {
	return func(r *Relay) { r.systemPrompt = prompt }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// Relay runs chat turns: it persists the user message, streams the model
// reply to the client and commits the reply once the stream ends.
type Relay struct {
	store         Store
	streamer      ai.Streamer
	log           *logger.Logger
	metrics       *observability.Metrics
	systemPrompt  string
	modelTimeout  time.Duration
	commitTimeout time.Duration
}

func New(store Store, streamer ai.Streamer, log *logger.Logger, opts ...Option) *Relay {
	if log == nil {
		log = logger.Nop()
	}
	r := &Relay{
		store:         store,
		streamer:      streamer,
		log:           log.With("service", "ChatRelay"),
		modelTimeout:  defaultModelTimeout,
		commitTimeout: defaultCommitTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TurnRequest is one inbound chat request. Messages is the full client
// side conversation; its last user entry is the new message.
type TurnRequest struct {
	OwnerID  string
	ChatID   string
	Messages []ai.Message
}

// Begin resolves or creates the chat and commits the user message. The
// returned turn is in UserPersisted.
func (r *Relay) Begin(ctx context.Context, req TurnRequest) (*Turn, error) {
	last := -1
	for i, msg := range req.Messages {
		if msg.Role == models.RoleUser && strings.TrimSpace(msg.Content) != "" {
			last = i
		}
	}
	if last < 0 {
		return nil, ErrNoMessages
	}
	content := req.Messages[last].Content

	var (
		chat    *models.Chat
		created bool
		err     error
	)
	if req.ChatID == "" {
		chat, err = r.store.CreateChat(ctx, req.OwnerID, TitleFromMessage(content))
		created = true
	} else {
		chat, err = r.store.GetChat(ctx, req.OwnerID, req.ChatID)
	}
	if err != nil {
		return nil, err
	}

	if _, err := r.store.AddMessage(ctx, chat.ID, models.RoleUser, content); err != nil {
		return nil, err
	}

	history := make([]ai.Message, 0, last+1)
	for _, msg := range req.Messages[:last+1] {
		if msg.Role == models.RoleSystem || msg.Content == "" {
			continue
		}
		history = append(history, msg)
	}

	t := &Turn{
		relay:   r,
		chat:    chat,
		created: created,
		history: history,
		state:   UserPersisted,
		log:     r.log.With("chat_id", chat.ID, "owner", req.OwnerID),
	}
	t.log.Info("user message persisted", "new_chat", created)
	return t, nil
}

// Turn is a single chat exchange. It is driven by one goroutine.
type Turn struct {
	relay      *Relay
	chat       *models.Chat
	created    bool
	history    []ai.Message
	state      State
	clientGone bool
	reply      string
	log        *logger.Logger
}

func (t *Turn) ChatID() string     { return t.chat.ID }
func (t *Turn) Chat() *models.Chat { return t.chat }
func (t *Turn) Created() bool      { return t.created }
func (t *Turn) State() State       { return t.state }
func (t *Turn) ClientGone() bool   { return t.clientGone }

// Reply is the assembled assistant text once the turn completed.
func (t *Turn) Reply() string { return t.reply }

// Stream calls the model, forwards each chunk to w and commits the reply
// at end of stream. Client failures stop forwarding but not the model
// stream; a model error aborts the turn without writing an assistant row.
func (t *Turn) Stream(ctx context.Context, w ChunkWriter) error {
	if t.state != UserPersisted {
		return fmt.Errorf("turn cannot stream from state %s", t.state)
	}
	r := t.relay

	// The model call outlives the client connection; only its own timeout ends it.
	modelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.modelTimeout)
	defer cancel()

	docs, err := r.store.ListSyncedDocuments(modelCtx)
	if err != nil {
		return t.abort(fmt.Errorf("load documents: %w", err))
	}

	started := time.Now()
	stream, err := r.streamer.Stream(modelCtx, ai.Request{
		System:    ai.BuildSystemPrompt(docs, r.systemPrompt),
		History:   t.history,
		Documents: docs,
	})
	if err != nil {
		return t.abort(fmt.Errorf("%w: %w", ErrModelStream, err))
	}
	defer stream.Close()

	t.state = Streaming
	r.metrics.StreamStarted()
	t.log.Debug("model stream started", "documents", len(docs), "history", len(t.history))

	var (
		reply     strings.Builder
		gotChunks bool
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.metrics.StreamFinished(observability.TurnAborted, t.clientGone)
			return t.abort(fmt.Errorf("%w: %w", ErrModelStream, err))
		}
		if chunk == "" {
			continue
		}
		if !gotChunks {
			gotChunks = true
			r.metrics.FirstChunk(time.Since(started))
		}
		reply.WriteString(chunk)
		t.forward(ctx, w, chunk)
	}

	if reply.Len() == 0 {
		r.metrics.StreamFinished(observability.TurnAborted, t.clientGone)
		return t.abort(fmt.Errorf("%w: empty reply", ErrModelStream))
	}

	commitCtx, commitCancel := context.WithTimeout(context.WithoutCancel(ctx), r.commitTimeout)
	defer commitCancel()
	if _, err := r.store.AddMessage(commitCtx, t.chat.ID, models.RoleAssistant, reply.String()); err != nil {
		r.metrics.StreamFinished(observability.TurnFailed, t.clientGone)
		return t.abort(err)
	}

	t.reply = reply.String()
	t.state = Completed
	r.metrics.StreamFinished(observability.TurnCompleted, t.clientGone)
	t.log.Info("assistant message committed", "chars", utf8.RuneCountInString(t.reply), "client_gone", t.clientGone)
	return nil
}

func (t *Turn) forward(ctx context.Context, w ChunkWriter, chunk string) {
	if t.clientGone {
		return
	}
	if ctx.Err() != nil {
		t.clientGone = true
		t.log.Info("client disconnected, continuing model stream")
		return
	}
	if err := w.WriteChunk(chunk); err != nil {
		t.clientGone = true
		t.log.Info("client write failed, continuing model stream", "error", err)
	}
}

func (t *Turn) abort(err error) error {
	t.state = Aborted
	t.log.Warn("chat turn aborted", "error", err, "client_gone", t.clientGone)
	return err
}

// TitleFromMessage derives a chat title from the first user message.
func TitleFromMessage(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if title == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(title) <= titleMaxRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:titleMaxRunes])) + "..."
}

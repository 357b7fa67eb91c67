// Package dispatch coordinates sends from the composer of one client to the
// chat backend and routes the replies back into the session store.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"
	"sync"
	"time"

	"multichat/attachment"
	"multichat/catalog"
	"multichat/chat"
	"multichat/chatapi"
	apperrors "multichat/errors"

	"go.uber.org/zap"
)

var (
	ErrNoActiveSession        = apperrors.WithKind(apperrors.ErrPrecondition, "Create a chat first.")
	ErrModelLacksImageSupport = apperrors.WithKind(apperrors.ErrPrecondition, "This chat's model does not accept images.")
	ErrUnknownModel           = apperrors.WithKind(apperrors.ErrInvalidInput, "Unknown model.")
)

// DefaultTimeout bounds a backend call when no timeout is configured.
const DefaultTimeout = 90 * time.Second

// Backend is the remote chat endpoint.
type Backend interface {
	Send(ctx context.Context, req chatapi.Request) (string, error)
}

// State is an immutable view of one client for rendering.
type State struct {
	Sessions  []chat.Session
	ActiveID  string
	Sending   bool
	Error     string
	Composer  ComposerState
	CanCreate bool
}

// Controller is Idle or Sending; a send is refused while another is in flight.
// Session navigation and composer edits stay available while Sending.
type Controller struct {
	mu       sync.Mutex
	store    *chat.Store
	catalog  *catalog.Catalog
	backend  Backend
	logger   *zap.Logger
	timeout  time.Duration
	composer Composer
	sending  bool
	lastErr  string
}

func NewController(store *chat.Store, cat *catalog.Catalog, backend Backend, logger *zap.Logger, timeout time.Duration) *Controller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Controller{
		store:    store,
		catalog:  cat,
		backend:  backend,
		logger:   logger,
		timeout:  timeout,
		composer: Composer{ModelID: cat.Default().ID},
	}
}

// Store returns the session store the controller writes to.
func (c *Controller) Store() *chat.Store { return c.store }

// Send commits rawText and att to the active session and issues one backend
// call in the background. Blank text and a send already in flight are ignored
// and return (nil, nil).
func (c *Controller) Send(ctx context.Context, rawText string, att *attachment.Attachment) (*Dispatch, error) {
	text := strings.TrimSpace(rawText)

	c.mu.Lock()
	if text == "" || c.sending {
		c.mu.Unlock()
		return nil, nil
	}
	active, ok := c.store.Active()
	if !ok {
		c.failLocked(ErrNoActiveSession)
		c.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	if att != nil && !c.catalog.SupportsImage(active.ModelID) {
		c.failLocked(ErrModelLacksImageSupport)
		c.mu.Unlock()
		return nil, ErrModelLacksImageSupport
	}

	snap := Snapshot{
		SessionID:  active.ID,
		ModelID:    active.ModelID,
		ModelLabel: c.catalog.Label(active.ModelID),
	}

	msg := &chat.UserMessage{Text: text}
	req := chatapi.Request{Message: text, Model: snap.ModelID}
	if att != nil {
		msg.Attachment = att.Preview()
		req.Image = &chatapi.Image{MIMEType: att.MIMEType, DataBase64: att.EncodedPayload}
	}
	if err := c.store.AppendMessage(snap.SessionID, msg); err != nil {
		c.failLocked(err)
		c.mu.Unlock()
		return nil, err
	}

	c.composer.Text = ""
	c.composer.Attachment = nil
	c.lastErr = ""
	c.sending = true
	c.mu.Unlock()

	c.store.Publish(chat.Event{Kind: chat.EventComposer})
	c.store.Publish(chat.Event{Kind: chat.EventSending, SessionID: snap.SessionID})

	c.logger.Info("Dispatching chat message",
		zap.String("session_id", snap.SessionID),
		zap.String("model", snap.ModelID),
		zap.Bool("has_image", att != nil))

	d := newDispatch(snap)
	// the call outlives the request that triggered it
	go c.run(context.WithoutCancel(ctx), d, req)
	return d, nil
}

// Submit sends the composer's current text and attachment.
func (c *Controller) Submit(ctx context.Context) (*Dispatch, error) {
	c.mu.Lock()
	text, att := c.composer.Text, c.composer.Attachment
	c.mu.Unlock()
	return c.Send(ctx, text, att)
}

func (c *Controller) run(ctx context.Context, d *Dispatch, req chatapi.Request) {
	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
		c.store.Publish(chat.Event{Kind: chat.EventSending, SessionID: d.Snapshot.SessionID})
		close(d.done)
	}()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	reply, err := c.backend.Send(callCtx, req)
	if err != nil {
		d.err = err
		c.logger.Warn("Chat backend call failed",
			zap.Error(err),
			zap.String("session_id", d.Snapshot.SessionID),
			zap.Duration("elapsed", time.Since(start)))
		c.mu.Lock()
		c.lastErr = c.describeFailure(err)
		c.mu.Unlock()
		c.store.Publish(chat.Event{Kind: chat.EventError, SessionID: d.Snapshot.SessionID})
		return
	}

	d.reply = reply
	bot := &chat.BotMessage{Text: reply, ModelLabel: d.Snapshot.ModelLabel}
	if err := c.store.AppendMessage(d.Snapshot.SessionID, bot); err != nil {
		c.logger.Warn("Dropping reply for a session that no longer exists",
			zap.String("session_id", d.Snapshot.SessionID))
		return
	}
	c.logger.Debug("Chat reply routed",
		zap.String("session_id", d.Snapshot.SessionID),
		zap.Duration("elapsed", time.Since(start)))
}

func (c *Controller) describeFailure(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("The chat backend did not answer within %s. Please resend your message.", c.timeout)
	}
	return "Message failed: " + err.Error()
}

// CreateSession opens a chat bound to modelID, or to the composer's model
// when modelID is empty.
func (c *Controller) CreateSession(modelID string) (chat.SessionRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if modelID == "" {
		modelID = c.composer.ModelID
	}
	if _, ok := c.catalog.Lookup(modelID); !ok {
		c.failLocked(ErrUnknownModel)
		return chat.SessionRef{}, ErrUnknownModel
	}

	ref, err := c.store.CreateSession(modelID)
	if err != nil {
		c.failLocked(err)
		return chat.SessionRef{}, err
	}
	c.composer.ModelID = modelID
	c.composer.Attachment = nil
	c.lastErr = ""
	c.store.Publish(chat.Event{Kind: chat.EventComposer})
	return ref, nil
}

// SelectSession makes id active. A pending attachment does not follow the
// user to another chat.
func (c *Controller) SelectSession(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.store.ActiveID()
	if err := c.store.SelectSession(id); err != nil {
		c.failLocked(err)
		return err
	}
	if previous != id && c.composer.Attachment != nil {
		c.composer.Attachment = nil
		c.store.Publish(chat.Event{Kind: chat.EventComposer})
	}
	return nil
}

// SelectModel changes the model used for the next new chat. Existing chats
// keep the model they were created with.
func (c *Controller) SelectModel(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.catalog.Lookup(id); !ok {
		c.failLocked(ErrUnknownModel)
		return ErrUnknownModel
	}
	c.composer.ModelID = id
	c.store.Publish(chat.Event{Kind: chat.EventComposer})
	return nil
}

// SetText replaces the composer text.
func (c *Controller) SetText(text string) {
	c.mu.Lock()
	c.composer.Text = text
	c.mu.Unlock()
}

// Attach builds an attachment from f and makes it the pending one.
func (c *Controller) Attach(f attachment.File) error {
	att, err := attachment.Build(f)
	return c.install(att, err)
}

// AttachUpload is Attach for a multipart form file.
func (c *Controller) AttachUpload(fh *multipart.FileHeader) error {
	att, err := attachment.FromMultipart(fh)
	return c.install(att, err)
}

// install replaces the pending attachment on success. On failure the composer
// is left as it was.
func (c *Controller) install(att *attachment.Attachment, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.failLocked(err)
		return err
	}
	c.composer.Attachment = att
	c.lastErr = ""
	c.store.Publish(chat.Event{Kind: chat.EventComposer})
	return nil
}

// RemoveAttachment drops the pending attachment, if any.
func (c *Controller) RemoveAttachment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.composer.Attachment != nil {
		c.composer.Attachment = nil
		c.store.Publish(chat.Event{Kind: chat.EventComposer})
	}
}

// ClearError empties the error slot.
func (c *Controller) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr != "" {
		c.lastErr = ""
		c.store.Publish(chat.Event{Kind: chat.EventError})
	}
}

// Sending reports whether a send is in flight.
func (c *Controller) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// LastError returns the message in the error slot.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// State returns a consistent view of sessions, composer and flags.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessions := c.store.Sessions()
	return State{
		Sessions:  sessions,
		ActiveID:  c.store.ActiveID(),
		Sending:   c.sending,
		Error:     c.lastErr,
		Composer:  c.composer.state(),
		CanCreate: len(sessions) < chat.MaxSessions,
	}
}

// failLocked puts err in the error slot, replacing any earlier one.
func (c *Controller) failLocked(err error) {
	c.lastErr = err.Error()
	c.store.Publish(chat.Event{Kind: chat.EventError})
}

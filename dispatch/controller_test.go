package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"multichat/attachment"
	"multichat/catalog"
	"multichat/chat"
	"multichat/chatapi"
	apperrors "multichat/errors"

	"go.uber.org/zap"
)

const (
	textModel   = "text-a"
	textModelB  = "text-b"
	visionModel = "vision-c"
)

var testModels = []catalog.ModelDescriptor{
	{ID: textModel, Label: "Text A"},
	{ID: textModelB, Label: "Text B"},
	{ID: visionModel, Label: "Vision C", SupportsImage: true},
}

type result struct {
	reply string
	err   error
}

// gatedBackend holds every call until the test releases it.
type gatedBackend struct {
	mu      sync.Mutex
	calls   []chatapi.Request
	started chan chatapi.Request
	release chan result
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{
		started: make(chan chatapi.Request, 8),
		release: make(chan result),
	}
}

func (b *gatedBackend) Send(ctx context.Context, req chatapi.Request) (string, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req)
	b.mu.Unlock()
	b.started <- req

	select {
	case r := <-b.release:
		return r.reply, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *gatedBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func newTestController(t *testing.T, backend Backend, timeout time.Duration) *Controller {
	t.Helper()
	return NewController(chat.NewStore(), catalog.New(testModels), backend, zap.NewNop(), timeout)
}

func waitStarted(t *testing.T, b *gatedBackend) chatapi.Request {
	t.Helper()
	select {
	case req := <-b.started:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("backend was not called")
		return chatapi.Request{}
	}
}

func waitDone(t *testing.T, d *Dispatch) {
	t.Helper()
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not complete")
	}
}

func messages(t *testing.T, c *Controller, id string) []chat.Message {
	t.Helper()
	s, ok := c.Store().Session(id)
	if !ok {
		t.Fatalf("session %s missing", id)
	}
	return s.Messages
}

func pngAttachment(t *testing.T, size int) *attachment.Attachment {
	t.Helper()
	data := make([]byte, size)
	copy(data, []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a})
	att, err := attachment.Build(attachment.File{Name: "circle.png", DeclaredType: "image/png", Data: data})
	if err != nil {
		t.Fatal(err)
	}
	return att
}

func TestReplyRoutedToOriginatingSession(t *testing.T) {
	backend := newGatedBackend()
	c := newTestController(t, backend, time.Minute)

	a, _ := c.CreateSession(textModel)
	d, err := c.Send(context.Background(), "hello from A", nil)
	if err != nil || d == nil {
		t.Fatalf("Send: %v %v", d, err)
	}
	waitStarted(t, backend)

	// navigate away while the request is outstanding
	b, err := c.CreateSession(textModelB)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SelectSession(b.ID); err != nil {
		t.Fatal(err)
	}

	backend.release <- result{reply: "hi A"}
	waitDone(t, d)

	msgsA := messages(t, c, a.ID)
	if len(msgsA) != 2 {
		t.Fatalf("A has %d messages, want 2", len(msgsA))
	}
	bot, ok := msgsA[1].(*chat.BotMessage)
	if !ok || bot.Text != "hi A" || bot.ModelLabel != "Text A" {
		t.Errorf("unexpected reply in A: %#v", msgsA[1])
	}
	if got := messages(t, c, b.ID); len(got) != 0 {
		t.Errorf("B was touched: %d messages", len(got))
	}
	if c.State().ActiveID != b.ID {
		t.Error("completion changed the active session")
	}
}

func TestSecondSendWhileInFlightIsIgnored(t *testing.T) {
	backend := newGatedBackend()
	c := newTestController(t, backend, time.Minute)
	ref, _ := c.CreateSession(textModel)

	first, _ := c.Send(context.Background(), "one", nil)
	waitStarted(t, backend)
	if !c.Sending() {
		t.Fatal("sending flag not set")
	}

	second, err := c.Send(context.Background(), "two", nil)
	if second != nil || err != nil {
		t.Fatalf("second send should be a no-op, got %v %v", second, err)
	}
	if n := len(messages(t, c, ref.ID)); n != 1 {
		t.Errorf("got %d optimistic messages, want 1", n)
	}

	backend.release <- result{reply: "ok"}
	waitDone(t, first)

	if backend.callCount() != 1 {
		t.Errorf("backend called %d times, want 1", backend.callCount())
	}
	if c.Sending() {
		t.Error("sending flag not cleared")
	}
}

func TestSessionCreationAllowedWhileSending(t *testing.T) {
	backend := newGatedBackend()
	c := newTestController(t, backend, time.Minute)
	c.CreateSession(textModel)

	d, _ := c.Send(context.Background(), "one", nil)
	waitStarted(t, backend)

	if _, err := c.CreateSession(textModel); err != nil {
		t.Errorf("create during send: %v", err)
	}
	backend.release <- result{reply: "ok"}
	waitDone(t, d)
}

func TestImageGating(t *testing.T) {
	backend := newGatedBackend()
	c := newTestController(t, backend, time.Minute)
	att := pngAttachment(t, 2048)

	text, _ := c.CreateSession(textModel)
	d, err := c.Send(context.Background(), "what is this", att)
	if d != nil || !errors.Is(err, ErrModelLacksImageSupport) {
		t.Fatalf("expected capability error, got %v %v", d, err)
	}
	if !apperrors.IsPrecondition(err) {
		t.Error("capability error should be a precondition error")
	}
	if n := len(messages(t, c, text.ID)); n != 0 {
		t.Errorf("rejected send appended %d messages", n)
	}
	if backend.callCount() != 0 {
		t.Error("rejected send reached the backend")
	}
	if c.LastError() != ErrModelLacksImageSupport.Error() {
		t.Errorf("error slot = %q", c.LastError())
	}

	vision, _ := c.CreateSession(visionModel)
	d, err = c.Send(context.Background(), "what is this", att)
	if err != nil || d == nil {
		t.Fatalf("vision send failed: %v", err)
	}
	req := waitStarted(t, backend)
	if req.Image == nil || req.Image.DataBase64 != att.EncodedPayload || req.Image.MIMEType != "image/png" {
		t.Errorf("image payload not sent: %+v", req.Image)
	}
	backend.release <- result{reply: "a circle"}
	waitDone(t, d)

	user := messages(t, c, vision.ID)[0].(*chat.UserMessage)
	if user.Attachment == nil || user.Attachment.DataURL != att.PreviewHandle || user.Attachment.Alt != "circle.png" {
		t.Errorf("user message lacks preview: %+v", user.Attachment)
	}
}

func TestEndToEndVisionExample(t *testing.T) {
	backend := newGatedBackend()
	c := newTestController(t, backend, time.Minute)

	ref, err := c.CreateSession(visionModel)
	if err != nil {
		t.Fatal(err)
	}
	data := make([]byte, 2048)
	copy(data, []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a})
	if err := c.Attach(attachment.File{Name: "red.png", DeclaredType: "image/png", Data: data}); err != nil {
		t.Fatal(err)
	}
	c.SetText("describe this")

	d, err := c.Submit(context.Background())
	if err != nil || d == nil {
		t.Fatalf("Submit: %v", err)
	}

	// composer is cleared before the reply arrives
	st := c.State()
	if st.Composer.Text != "" || st.Composer.Attachment != nil || !st.Sending {
		t.Errorf("composer not cleared on commit: %+v sending=%v", st.Composer, st.Sending)
	}

	req := waitStarted(t, backend)
	if req.Message != "describe this" || req.Model != visionModel || req.Image == nil {
		t.Errorf("unexpected request %+v", req)
	}
	backend.release <- result{reply: "a red circle"}
	waitDone(t, d)

	msgs := messages(t, c, ref.ID)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	user, ok := msgs[0].(*chat.UserMessage)
	if !ok || user.Text != "describe this" || user.Attachment == nil || user.Attachment.Alt != "red.png" {
		t.Errorf("unexpected user message %#v", msgs[0])
	}
	bot, ok := msgs[1].(*chat.BotMessage)
	if !ok || bot.Text != "a red circle" || bot.ModelLabel != "Vision C" {
		t.Errorf("unexpected bot message %#v", msgs[1])
	}
	if d.Reply() != "a red circle" || d.Err() != nil {
		t.Errorf("dispatch result %q %v", d.Reply(), d.Err())
	}
}

func TestFailureKeepsUserMessageAndSetsError(t *testing.T) {
	backend := newGatedBackend()
	c := newTestController(t, backend, time.Minute)
	ref, _ := c.CreateSession(textModel)

	d, _ := c.Send(context.Background(), "hello", nil)
	waitStarted(t, backend)
	backend.release <- result{err: &chatapi.TransportError{StatusCode: 500, Status: "500 Internal Server Error", Body: "model exploded"}}
	waitDone(t, d)

	msgs := messages(t, c, ref.ID)
	if len(msgs) != 1 || msgs[0].Role() != chat.RoleUser {
		t.Fatalf("expected only the optimistic user message, got %d", len(msgs))
	}
	if !strings.Contains(c.LastError(), "model exploded") {
		t.Errorf("error slot = %q", c.LastError())
	}
	if c.Sending() {
		t.Error("flag not cleared after failure")
	}
	if !apperrors.IsTransport(d.Err()) {
		t.Errorf("dispatch error = %v", d.Err())
	}

	// the next successful send clears the stale error
	d, _ = c.Send(context.Background(), "again", nil)
	if c.LastError() != "" {
		t.Errorf("error not cleared on send: %q", c.LastError())
	}
	waitStarted(t, backend)
	backend.release <- result{reply: "ok"}
	waitDone(t, d)
	if c.LastError() != "" {
		t.Errorf("error reappeared: %q", c.LastError())
	}
}

func TestTimeoutClearsFlag(t *testing.T) {
	backend := newGatedBackend()
	c := newTestController(t, backend, 50*time.Millisecond)
	ref, _ := c.CreateSession(textModel)

	d, _ := c.Send(context.Background(), "anyone there?", nil)
	waitStarted(t, backend)
	waitDone(t, d)

	if c.Sending() {
		t.Error("flag still set after timeout")
	}
	if !errors.Is(d.Err(), context.DeadlineExceeded) {
		t.Errorf("dispatch error = %v", d.Err())
	}
	if !strings.Contains(c.LastError(), "did not answer") {
		t.Errorf("error slot = %q", c.LastError())
	}
	if n := len(messages(t, c, ref.ID)); n != 1 {
		t.Errorf("got %d messages, want only the user message", n)
	}
}

func TestCallerCancellationDoesNotAbortSend(t *testing.T) {
	backend := newGatedBackend()
	c := newTestController(t, backend, time.Minute)
	ref, _ := c.CreateSession(textModel)

	ctx, cancel := context.WithCancel(context.Background())
	d, _ := c.Send(ctx, "hi", nil)
	waitStarted(t, backend)
	cancel()

	backend.release <- result{reply: "still here"}
	waitDone(t, d)
	if n := len(messages(t, c, ref.ID)); n != 2 {
		t.Errorf("got %d messages, want 2", n)
	}
}

func TestPreconditions(t *testing.T) {
	backend := newGatedBackend()
	c := newTestController(t, backend, time.Minute)

	for _, blank := range []string{"", "   ", "\n\t"} {
		if d, err := c.Send(context.Background(), blank, nil); d != nil || err != nil {
			t.Errorf("blank %q: got %v %v", blank, d, err)
		}
	}
	if c.LastError() != "" {
		t.Error("blank send set an error")
	}

	d, err := c.Send(context.Background(), "hello", nil)
	if d != nil || !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v %v", d, err)
	}
	if c.LastError() == "" {
		t.Error("no-active-session error not surfaced")
	}
	if backend.callCount() != 0 {
		t.Error("backend called despite failed precondition")
	}
}

func TestSendTrimsText(t *testing.T) {
	backend := newGatedBackend()
	c := newTestController(t, backend, time.Minute)
	ref, _ := c.CreateSession(textModel)

	d, _ := c.Send(context.Background(), "  padded  ", nil)
	req := waitStarted(t, backend)
	backend.release <- result{reply: "ok"}
	waitDone(t, d)

	if req.Message != "padded" || messages(t, c, ref.ID)[0].Body() != "padded" {
		t.Errorf("text not trimmed: %q", req.Message)
	}
}

func TestSessionModelIsFixedAtCreation(t *testing.T) {
	backend := newGatedBackend()
	c := newTestController(t, backend, time.Minute)

	if err := c.SelectModel(textModel); err != nil {
		t.Fatal(err)
	}
	ref, _ := c.CreateSession("")
	if err := c.SelectModel(textModelB); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		d, _ := c.Send(context.Background(), "hi", nil)
		req := waitStarted(t, backend)
		if req.Model != textModel {
			t.Errorf("send %d used model %q, want %q", i, req.Model, textModel)
		}
		backend.release <- result{reply: "ok"}
		waitDone(t, d)
	}

	for _, msg := range messages(t, c, ref.ID) {
		if bot, ok := msg.(*chat.BotMessage); ok && bot.ModelLabel != "Text A" {
			t.Errorf("bot label %q, want Text A", bot.ModelLabel)
		}
	}
	if s, _ := c.Store().Session(ref.ID); s.ModelID != textModel {
		t.Errorf("session model changed to %q", s.ModelID)
	}
}

func TestAttachmentLifecycle(t *testing.T) {
	c := newTestController(t, newGatedBackend(), time.Minute)
	a, _ := c.CreateSession(visionModel)
	b, _ := c.CreateSession(visionModel)
	png := make([]byte, 64)
	copy(png, []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a})

	if err := c.Attach(attachment.File{Name: "one.png", DeclaredType: "image/png", Data: png}); err != nil {
		t.Fatal(err)
	}

	// invalid file leaves the pending attachment alone
	err := c.Attach(attachment.File{Name: "big.png", DeclaredType: "image/png", Data: make([]byte, 6*1024*1024)})
	if !apperrors.IsInvalidInput(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	st := c.State()
	if st.Composer.Attachment == nil || st.Composer.Attachment.FileName != "one.png" {
		t.Errorf("pending attachment changed: %+v", st.Composer.Attachment)
	}
	if st.Error == "" {
		t.Error("validation error not surfaced")
	}

	// a new file replaces the old one and clears the error
	if err := c.Attach(attachment.File{Name: "two.png", DeclaredType: "image/png", Data: png}); err != nil {
		t.Fatal(err)
	}
	st = c.State()
	if st.Composer.Attachment.FileName != "two.png" || st.Error != "" {
		t.Errorf("replace failed: %+v err=%q", st.Composer.Attachment, st.Error)
	}

	// re-selecting the active chat keeps it, switching drops it
	c.SelectSession(b.ID)
	if c.State().Composer.Attachment == nil {
		t.Error("selecting the active chat dropped the attachment")
	}
	c.SelectSession(a.ID)
	if c.State().Composer.Attachment != nil {
		t.Error("switching chats kept the attachment")
	}

	c.Attach(attachment.File{Name: "three.png", DeclaredType: "image/png", Data: png})
	c.RemoveAttachment()
	if c.State().Composer.Attachment != nil {
		t.Error("RemoveAttachment did not clear")
	}

	c.Attach(attachment.File{Name: "four.png", DeclaredType: "image/png", Data: png})
	c.CreateSession(visionModel)
	if c.State().Composer.Attachment != nil {
		t.Error("creating a chat kept the attachment")
	}
}

func TestCreateSessionErrors(t *testing.T) {
	c := newTestController(t, newGatedBackend(), time.Minute)

	if _, err := c.CreateSession("nope"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
	for i := 0; i < chat.MaxSessions; i++ {
		if _, err := c.CreateSession(textModel); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.CreateSession(textModel); !errors.Is(err, chat.ErrLimitReached) {
		t.Fatalf("expected limit error, got %v", err)
	}
	st := c.State()
	if st.Error != chat.ErrLimitReached.Error() || st.CanCreate || len(st.Sessions) != chat.MaxSessions {
		t.Errorf("unexpected state after limit: err=%q canCreate=%v n=%d", st.Error, st.CanCreate, len(st.Sessions))
	}

	if err := c.SelectSession("missing"); !apperrors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	c.ClearError()
	if c.LastError() != "" {
		t.Error("ClearError did not clear")
	}
}

func TestStatePublishesEvents(t *testing.T) {
	backend := newGatedBackend()
	c := newTestController(t, backend, time.Minute)
	events, cancel := c.Store().Subscribe()
	defer cancel()

	c.CreateSession(textModel)
	d, _ := c.Send(context.Background(), "hi", nil)
	waitStarted(t, backend)
	backend.release <- result{reply: "ok"}
	waitDone(t, d)

	seen := map[chat.EventKind]int{}
	timeout := time.After(time.Second)
	for seen[chat.EventSending] < 2 {
		select {
		case ev := <-events:
			seen[ev.Kind]++
		case <-timeout:
			t.Fatalf("missing events, saw %v", seen)
		}
	}
	if seen[chat.EventSessionCreated] != 1 || seen[chat.EventMessageAppended] < 2 {
		t.Errorf("unexpected events %v", seen)
	}
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"multichat/chat"

	"go.uber.org/zap"
)

// HeartbeatInterval keeps idle event streams open through proxies.
const HeartbeatInterval = 25 * time.Second

type StreamData struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

type StreamService struct {
	logger *zap.Logger
}

func NewStreamService(logger *zap.Logger) *StreamService {
	return &StreamService{
		logger: logger,
	}
}

// WriteSSEData is a helper to write SSE formatted data safely.
func (ss *StreamService) WriteSSEData(ctx context.Context, w http.ResponseWriter, data StreamData, mu *sync.Mutex) error {
	mu.Lock()
	defer mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "data: %s\n\n", jsonData)
	if err != nil {
		return err
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func (ss *StreamService) writeComment(w http.ResponseWriter, mu *sync.Mutex) error {
	mu.Lock()
	defer mu.Unlock()
	if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// StreamEvents forwards store events to w until ctx ends or the subscription
// closes. A "ready" event goes first so the page can sync immediately.
func (ss *StreamService) StreamEvents(ctx context.Context, w http.ResponseWriter, store *chat.Store) error {
	events, cancel := store.Subscribe()
	defer cancel()

	var mu sync.Mutex
	if err := ss.WriteSSEData(ctx, w, StreamData{Type: "ready"}, &mu); err != nil {
		return err
	}

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data := StreamData{Type: string(ev.Kind), SessionID: ev.SessionID}
			if err := ss.WriteSSEData(ctx, w, data, &mu); err != nil {
				ss.logger.Debug("Event stream closed", zap.Error(err))
				return nil
			}
		case <-heartbeat.C:
			if err := ss.writeComment(w, &mu); err != nil {
				return nil
			}
		}
	}
}

package da

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/aps-client/pkg/client"
	"github.com/Sternrassler/aps-client/pkg/logging"
	"github.com/Sternrassler/aps-client/pkg/poll"
)

// ErrStreamRejected is returned when the push endpoint reports an error.
var ErrStreamRejected = errors.New("work item stream error")

// streamMessage is a frame pushed by the WebSocket endpoint.
type streamMessage struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// WorkItemStream receives work item snapshots over a WebSocket.
// It implements poll.Stream[WorkItem].
type WorkItemStream struct {
	conn    *websocket.Conn
	logger  zerolog.Logger
	pending *WorkItem
}

var _ poll.Stream[WorkItem] = (*WorkItemStream)(nil)

// SubmitWorkItemStream submits body over the WebSocket endpoint and returns
// the stream together with the first status snapshot, which carries the new
// work item id. The poller timeout bounds the wait for that snapshot.
func (s *Service) SubmitWorkItemStream(ctx context.Context, token string, body *WorkItemRequest) (*WorkItemStream, *WorkItem, error) {
	if token == "" {
		return nil, nil, fmt.Errorf("submit work item: %w: token is required", client.ErrMissingCredential)
	}
	if body == nil {
		return nil, nil, fmt.Errorf("work item body is required")
	}

	if timeout := s.poller.Config().Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, http.Header{})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, client.TimeoutError("dial work item stream", ctx.Err())
		}
		if resp != nil {
			return nil, nil, fmt.Errorf("dial work item stream: %s: %w", resp.Status, err)
		}
		return nil, nil, fmt.Errorf("dial work item stream: %w", err)
	}

	stream := &WorkItemStream{
		conn:   conn,
		logger: s.logger.With().Str("strategy", "push").Logger(),
	}

	err = conn.WriteJSON(map[string]any{
		"action":  "post-workitem",
		"data":    body,
		"headers": map[string]string{"Authorization": "Bearer " + token},
	})
	if err != nil {
		stream.Close()
		return nil, nil, fmt.Errorf("send work item: %w", err)
	}

	for {
		wi, err := stream.read(ctx)
		if err != nil {
			stream.Close()
			if ctx.Err() != nil {
				return nil, nil, client.TimeoutError("await work item submission", ctx.Err())
			}
			return nil, nil, err
		}
		if wi.ID != "" && wi.Status != "" {
			stream.pending = &wi
			s.logger.Info().
				Str(logging.FieldJobID, wi.ID).
				Str("activity", body.ActivityID).
				Msg("Work item submitted over stream")
			return stream, &wi, nil
		}
	}
}

// Next returns the next snapshot. Progress frames yield an inprogress snapshot.
func (st *WorkItemStream) Next(ctx context.Context) (WorkItem, error) {
	if st.pending != nil {
		wi := *st.pending
		st.pending = nil
		return wi, nil
	}
	return st.read(ctx)
}

func (st *WorkItemStream) read(ctx context.Context) (WorkItem, error) {
	// Unblock ReadMessage when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		st.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := st.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return WorkItem{}, ctx.Err()
		}
		return WorkItem{}, fmt.Errorf("read work item stream: %w", err)
	}

	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return WorkItem{}, fmt.Errorf("decode stream frame: %w", err)
	}

	switch msg.Action {
	case "status":
		var wi WorkItem
		if err := json.Unmarshal(msg.Data, &wi); err != nil {
			return WorkItem{}, fmt.Errorf("decode status frame: %w", err)
		}
		return wi, nil
	case "progress":
		var p struct {
			ID       string `json:"id"`
			Progress string `json:"progress"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return WorkItem{}, fmt.Errorf("decode progress frame: %w", err)
		}
		st.logger.Debug().Str(logging.FieldJobID, p.ID).Str("progress", p.Progress).Msg("Work item progress")
		return WorkItem{ID: p.ID, Status: StatusInProgress, Progress: p.Progress}, nil
	case "error":
		return WorkItem{}, fmt.Errorf("%w: %s", ErrStreamRejected, errorText(msg.Data))
	default:
		return WorkItem{}, fmt.Errorf("%w: unexpected action %q", ErrStreamRejected, msg.Action)
	}
}

// errorText unwraps a data field that may itself be a JSON-encoded string.
func errorText(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}

// Close ends the WebSocket session.
func (st *WorkItemStream) Close() error {
	_ = st.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return st.conn.Close()
}

// RunWorkItem submits body over the WebSocket endpoint and waits for the
// pushed terminal status. The poller timeout bounds submission and wait
// together.
func (s *Service) RunWorkItem(ctx context.Context, token string, body *WorkItemRequest) (*WorkItem, error) {
	if timeout := s.poller.Config().Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stream, first, err := s.SubmitWorkItemStream(ctx, token, body)
	if err != nil {
		return nil, err
	}
	if first.Status.Terminal() {
		stream.Close()
		s.storeWorkItem(ctx, s.cacheKey(first.ID), *first)
		return first, nil
	}

	wi, err := poll.Watch[WorkItem](ctx, s.poller, stream, first.ID)
	if err != nil {
		return nil, err
	}
	s.storeWorkItem(ctx, s.cacheKey(wi.ID), wi)
	return &wi, nil
}

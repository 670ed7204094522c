package da

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/Sternrassler/aps-client/pkg/cache"
	"github.com/Sternrassler/aps-client/pkg/logging"
	"github.com/Sternrassler/aps-client/pkg/oss"
	"github.com/Sternrassler/aps-client/pkg/poll"
)

// Work item states. Everything but pending and inprogress is terminal.
const (
	StatusPending                   = poll.StatePending
	StatusInProgress                = poll.StateInProgress
	StatusCancelled                 = poll.State("cancelled")
	StatusFailedLimitProcessingTime = poll.State("failedLimitProcessingTime")
	StatusFailedDownload            = poll.State("failedDownload")
	StatusFailedInstructions        = poll.State("failedInstructions")
	StatusFailedUpload              = poll.State("failedUpload")
	StatusFailedUploadOptional      = poll.State("failedUploadOptional")
	StatusSuccess                   = poll.State("success")
)

// Statuses is every state a work item reports.
var Statuses = []poll.State{
	StatusPending, StatusInProgress, StatusCancelled,
	StatusFailedLimitProcessingTime, StatusFailedDownload, StatusFailedInstructions,
	StatusFailedUpload, StatusFailedUploadOptional, StatusSuccess,
}

// ErrInvalidArgument is returned for a work item argument of unknown shape.
var ErrInvalidArgument = errors.New("invalid work item argument")

// Argument is a work item input or output: JSONArgument or OSSArgument.
type Argument interface {
	isArgument()
}

// JSONArgument is inlined as a data: URL.
type JSONArgument struct {
	JSON string
}

func (JSONArgument) isArgument() {}

// OSSArgument references an OSS object. The caller's token is forwarded so
// the engine can read or write it.
type OSSArgument struct {
	Verb      Verb
	BucketKey string
	ObjectKey string
}

func (OSSArgument) isArgument() {}

// WorkItemArgument is the wire form of an argument.
type WorkItemArgument struct {
	URL     string            `json:"url"`
	Verb    Verb              `json:"verb,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// WorkItemRequest is the body of a work item submission.
type WorkItemRequest struct {
	ActivityID string                      `json:"activityId"`
	Arguments  map[string]WorkItemArgument `json:"arguments"`
}

// WorkItem is a work item status snapshot.
type WorkItem struct {
	ID        string         `json:"id"`
	Status    poll.State     `json:"status"`
	Progress  string         `json:"progress,omitempty"`
	ReportURL string         `json:"reportUrl,omitempty"`
	Stats     map[string]any `json:"stats,omitempty"`
}

// JobID implements poll.Snapshot.
func (w WorkItem) JobID() string { return w.ID }

// JobState implements poll.Snapshot.
func (w WorkItem) JobState() poll.State { return w.Status }

// Succeeded reports whether the work item finished successfully.
func (w WorkItem) Succeeded() bool { return w.Status == StatusSuccess }

// NewWorkItemBody expands arguments into a submission body.
func NewWorkItemBody(token, activityID string, args map[string]Argument) (*WorkItemRequest, error) {
	if activityID == "" {
		return nil, fmt.Errorf("activity id is required")
	}

	body := &WorkItemRequest{
		ActivityID: activityID,
		Arguments:  make(map[string]WorkItemArgument, len(args)),
	}
	for name, arg := range args {
		switch a := arg.(type) {
		case JSONArgument:
			body.Arguments[name] = WorkItemArgument{
				Verb: VerbGet,
				URL:  "data:application/json," + a.JSON,
			}
		case OSSArgument:
			if a.BucketKey == "" || a.ObjectKey == "" {
				return nil, fmt.Errorf("%w: %s: bucket and object key are required", ErrInvalidArgument, name)
			}
			verb := a.Verb
			if verb == "" {
				verb = VerbGet
			}
			body.Arguments[name] = WorkItemArgument{
				Verb:    verb,
				URL:     oss.URN(a.BucketKey, a.ObjectKey),
				Headers: map[string]string{"Authorization": "Bearer " + token},
			}
		default:
			return nil, fmt.Errorf("%w: %s: %T", ErrInvalidArgument, name, arg)
		}
	}
	return body, nil
}

// ParseArguments decodes a JSON object of arguments. Each value is either
// {"json": <string or value>} or {"verb", "bucketKey", "objectKey"}.
// Any other shape is rejected.
func ParseArguments(data []byte) (map[string]Argument, error) {
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make(map[string]Argument, len(raw))
	for _, name := range names {
		fields := raw[name]
		if v, ok := fields["json"]; ok {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				s = string(v)
			}
			args[name] = JSONArgument{JSON: s}
			continue
		}

		_, hasBucket := fields["bucketKey"]
		_, hasObject := fields["objectKey"]
		if !hasBucket || !hasObject {
			return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, name)
		}
		var a struct {
			Verb      Verb   `json:"verb"`
			BucketKey string `json:"bucketKey"`
			ObjectKey string `json:"objectKey"`
		}
		obj, _ := json.Marshal(fields)
		if err := json.Unmarshal(obj, &a); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, name, err)
		}
		args[name] = OSSArgument{Verb: a.Verb, BucketKey: a.BucketKey, ObjectKey: a.ObjectKey}
	}
	return args, nil
}

// CreateWorkItem submits a work item.
func (s *Service) CreateWorkItem(ctx context.Context, token string, body *WorkItemRequest) (*WorkItem, error) {
	if body == nil {
		return nil, fmt.Errorf("work item body is required")
	}

	var wi WorkItem
	if err := s.send(ctx, http.MethodPost, token, "/workitems", body, &wi); err != nil {
		return nil, fmt.Errorf("create work item for %s: %w", body.ActivityID, err)
	}
	s.logger.Info().
		Str(logging.FieldJobID, wi.ID).
		Str("activity", body.ActivityID).
		Str("status", string(wi.Status)).
		Msg("Work item submitted")
	return &wi, nil
}

// WorkItem fetches the current status of a work item.
func (s *Service) WorkItem(ctx context.Context, token, id string) (*WorkItem, error) {
	if id == "" {
		return nil, fmt.Errorf("work item id is required")
	}
	var wi WorkItem
	if err := s.get(ctx, token, "/workitems/"+url.PathEscape(id), &wi); err != nil {
		return nil, fmt.Errorf("get work item %s: %w", id, err)
	}
	return &wi, nil
}

// CancelWorkItem cancels a pending or running work item.
func (s *Service) CancelWorkItem(ctx context.Context, token, id string) error {
	if id == "" {
		return fmt.Errorf("work item id is required")
	}
	if err := s.remove(ctx, token, "/workitems/"+url.PathEscape(id)); err != nil {
		return fmt.Errorf("cancel work item %s: %w", id, err)
	}
	return nil
}

// WaitWorkItem polls a work item until it is terminal. A terminal failure
// state is returned without error. Terminal snapshots are cached when a
// cache is configured.
func (s *Service) WaitWorkItem(ctx context.Context, token, id string) (*WorkItem, error) {
	if id == "" {
		return nil, fmt.Errorf("work item id is required")
	}

	key := s.cacheKey(id)
	if cached, ok := s.cachedWorkItem(ctx, key); ok {
		return cached, nil
	}

	fetch := func(ctx context.Context, id string) (WorkItem, error) {
		wi, err := s.WorkItem(ctx, token, id)
		if err != nil {
			return WorkItem{}, err
		}
		return *wi, nil
	}

	wi, err := poll.Until(ctx, s.poller, fetch, id)
	if err != nil {
		return nil, err
	}

	s.storeWorkItem(ctx, key, wi)
	return &wi, nil
}

func (s *Service) cacheKey(id string) cache.Key {
	return cache.Key{Service: serviceName, Kind: "workitem", ID: id, Scope: s.cacheScope}
}

func (s *Service) cachedWorkItem(ctx context.Context, key cache.Key) (*WorkItem, bool) {
	if s.cache == nil {
		return nil, false
	}
	entry, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn().Err(err).Str(logging.FieldJobID, key.ID).Msg("Work item cache read failed")
		}
		return nil, false
	}
	var wi WorkItem
	if err := entry.Decode(&wi); err != nil {
		s.logger.Warn().Err(err).Str(logging.FieldJobID, key.ID).Msg("Cached work item unreadable")
		return nil, false
	}
	s.logger.Debug().Str(logging.FieldJobID, key.ID).Str("status", string(wi.Status)).Msg("Work item served from cache")
	return &wi, true
}

func (s *Service) storeWorkItem(ctx context.Context, key cache.Key, wi WorkItem) {
	if s.cache == nil || !wi.Status.Terminal() {
		return
	}
	entry, err := cache.NewEntry(wi, string(wi.Status), 0)
	if err == nil {
		err = s.cache.Set(ctx, key, entry)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str(logging.FieldJobID, wi.ID).Msg("Work item cache write failed")
	}
}

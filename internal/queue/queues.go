package queue

import (
	"context"
	"encoding/json"

	"github.com/ozgurakan/marconi/internal/storage"
	"github.com/ozgurakan/marconi/pkg/log"
)

// QueueInfo is a queue listing entry. Metadata is included only when the
// listing asked for detail.
type QueueInfo struct {
	Name     string
	Metadata []byte
}

// Stats reports message counts for one queue at the time of the call.
type Stats struct {
	Free    int64
	Claimed int64
	Total   int64
}

// CreateQueue creates the queue if absent. Creation is idempotent: the
// returned flag distinguishes a fresh queue from an existing one, it is
// never an error to create twice. A non-nil metadata document replaces the
// stored one; nil leaves an existing queue's metadata untouched.
func (e *Engine) CreateQueue(ctx context.Context, project, name string, metadata []byte) (bool, error) {
	if err := validateProject(project); err != nil {
		return false, err
	}
	if err := validateQueueName(name); err != nil {
		return false, err
	}
	if metadata != nil {
		if err := e.validateMetadata(metadata); err != nil {
			return false, err
		}
	}

	if metadata == nil {
		exists, err := e.backend.Queues().Exists(ctx, project, name)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}
	created, err := e.backend.Queues().Upsert(ctx, project, name, metadata)
	if err != nil {
		return false, err
	}
	if created {
		e.logger.Info("queue created", log.Str("project", project), log.Str("queue", name))
	}
	return created, nil
}

// DeleteQueue removes the queue, its messages and its claims. Deleting an
// absent queue succeeds.
func (e *Engine) DeleteQueue(ctx context.Context, project, name string) error {
	if err := validateProject(project); err != nil {
		return err
	}
	if err := validateQueueName(name); err != nil {
		return err
	}
	if err := e.backend.Queues().Delete(ctx, project, name); err != nil {
		return err
	}
	e.logger.Info("queue deleted", log.Str("project", project), log.Str("queue", name))
	return nil
}

// QueueExists reports whether the queue exists.
func (e *Engine) QueueExists(ctx context.Context, project, name string) (bool, error) {
	if err := validateProject(project); err != nil {
		return false, err
	}
	if err := validateQueueName(name); err != nil {
		return false, err
	}
	return e.backend.Queues().Exists(ctx, project, name)
}

func (e *Engine) validateMetadata(metadata []byte) error {
	if len(metadata) > e.limits.MaxQueueMetadata {
		return storage.Validationf("queue metadata exceeds %d bytes", e.limits.MaxQueueMetadata)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(metadata, &doc); err != nil {
		return storage.Validationf("queue metadata must be a JSON object")
	}
	return nil
}

// SetQueueMetadata replaces the queue's metadata document. The queue must
// exist and the document must be a JSON object within the size bound.
func (e *Engine) SetQueueMetadata(ctx context.Context, project, name string, metadata []byte) error {
	if err := validateProject(project); err != nil {
		return err
	}
	if err := validateQueueName(name); err != nil {
		return err
	}
	if err := e.validateMetadata(metadata); err != nil {
		return err
	}

	exists, err := e.backend.Queues().Exists(ctx, project, name)
	if err != nil {
		return err
	}
	if !exists {
		return &storage.QueueDoesNotExistError{Project: project, Queue: name}
	}
	_, err = e.backend.Queues().Upsert(ctx, project, name, metadata)
	return err
}

// QueueMetadata returns the queue's metadata document.
func (e *Engine) QueueMetadata(ctx context.Context, project, name string) ([]byte, error) {
	if err := validateProject(project); err != nil {
		return nil, err
	}
	if err := validateQueueName(name); err != nil {
		return nil, err
	}
	return e.backend.Queues().Metadata(ctx, project, name)
}

// ListQueues returns one page of the project's queues in name order. The
// second return is the marker to resume from; it is the last name on the
// page and is only meaningful when the page is full.
func (e *Engine) ListQueues(ctx context.Context, project, marker string, limit int, detailed bool) ([]QueueInfo, string, error) {
	if err := validateProject(project); err != nil {
		return nil, "", err
	}
	limit, err := e.limits.pageSize(limit)
	if err != nil {
		return nil, "", err
	}

	entries, err := e.backend.Queues().List(ctx, project, marker, limit)
	if err != nil {
		return nil, "", err
	}
	out := make([]QueueInfo, 0, len(entries))
	next := ""
	for _, entry := range entries {
		info := QueueInfo{Name: entry.Name}
		if detailed {
			info.Metadata = entry.Metadata
		}
		out = append(out, info)
		next = entry.Name
	}
	return out, next, nil
}

// QueueStats counts the queue's messages by visibility.
func (e *Engine) QueueStats(ctx context.Context, project, name string) (Stats, error) {
	if err := validateProject(project); err != nil {
		return Stats{}, err
	}
	if err := validateQueueName(name); err != nil {
		return Stats{}, err
	}
	st, err := e.backend.Queues().Stats(ctx, project, name, e.now())
	if err != nil {
		return Stats{}, err
	}
	return Stats{Free: st.Free, Claimed: st.Claimed, Total: st.Total}, nil
}

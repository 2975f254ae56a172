// Package queue implements the durable at-least-once queue of spec §6 on
// top of the blob store: no message-broker library exists anywhere in the
// example corpus, so the queue is a thin layer of blobs (one per message,
// under queue/{name}/{message_id}.json) plus the lease primitive for
// visibility timeout and dead-lettering. This mirrors how the teacher's
// own ReleaseParty backend layers a work queue over a plain SQL table
// rather than reaching for an external broker (internal/store/store.go).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"contentpipe/internal/blobstore"
	"contentpipe/internal/errs"
	"contentpipe/internal/lease"
	"contentpipe/internal/pipeline"
)

type Queue struct {
	Name            string
	store           *blobstore.Store
	leases          *lease.Manager
	maxRedeliveries int
}

func New(store *blobstore.Store, leases *lease.Manager, name string, maxRedeliveries int) *Queue {
	return &Queue{Name: name, store: store, leases: leases, maxRedeliveries: maxRedeliveries}
}

func (q *Queue) messageKey(id string) string {
	return fmt.Sprintf("queue/%s/%s.json", q.Name, id)
}

func (q *Queue) deadLetterKey(id string) string {
	return fmt.Sprintf("queue/%s/dead-letter/%s.json", q.Name, id)
}

// Enqueue persists a new message. A caller-supplied correlation id threads
// through a single topic's lifetime across queues (spec §6: "correlation_id
// ties related messages together across stages").
func (q *Queue) Enqueue(operation, serviceName, correlationID string, payload pipeline.RawPayload) (string, error) {
	msg := pipeline.QueueMessage{
		MessageID:     uuid.NewString(),
		Operation:     operation,
		ServiceName:   serviceName,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Payload:       payload,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", errs.Wrap("queue.Enqueue", errs.Fatal, err)
	}
	if _, err := q.store.Put(q.messageKey(msg.MessageID), body); err != nil {
		return "", errs.Wrap("queue.Enqueue", errs.Transient, err)
	}
	return msg.MessageID, nil
}

// Received is one message claimed for processing, holding the lease that
// makes the claim visible to other workers until Ack/Nack releases it.
type Received struct {
	Message pipeline.QueueMessage
	lease   *lease.Held
}

// Receive lists pending messages and attempts to claim the first one, in
// key order, that no worker holds an unexpired lease on. Returns (nil, nil) when nothing
// is claimable — the caller should back off and poll again (spec §6:
// "workers poll; there is no blocking long-poll primitive in this design").
func (q *Queue) Receive(ctx context.Context, ownerID string) (*Received, error) {
	keys, err := q.pendingKeys()
	if err != nil {
		return nil, errs.Wrap("queue.Receive", errs.Transient, err)
	}
	for _, key := range keys {
		id := messageIDFromKey(key)
		held, err := q.leases.Acquire(id, ownerID)
		if err != nil {
			continue // lost the race or lease held elsewhere; try the next message
		}
		body, _, err := q.store.Get(key)
		if err != nil {
			q.leases.Release(held)
			continue
		}
		var msg pipeline.QueueMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			q.leases.Release(held)
			continue
		}
		return &Received{Message: msg, lease: held}, nil
	}
	return nil, nil
}

// Ack deletes the message and releases its lease, completing processing.
func (q *Queue) Ack(r *Received) error {
	if err := q.store.Delete(q.messageKey(r.Message.MessageID)); err != nil {
		return errs.Wrap("queue.Ack", errs.Transient, err)
	}
	return q.leases.Release(r.lease)
}

// Nack abandons processing of a message. If the redelivery cap has been
// exceeded it moves the message to the dead-letter prefix and releases the
// lease immediately (spec §6 edge case: "max_redeliveries exceeded moves
// the message to a dead-letter queue instead of retrying forever").
// Otherwise it leaves the lease exactly as it is: redelivery is driven by
// the lease simply expiring, at which point a future Receive reclaims it
// through the Expired→Held path and increments the attempt counter. This
// gives a nacked message a natural cooldown instead of a hot retry loop.
func (q *Queue) Nack(r *Received) error {
	if r.lease.Record.AttemptNumber <= q.maxRedeliveries {
		return nil
	}
	body, err := json.Marshal(r.Message)
	if err != nil {
		return errs.Wrap("queue.Nack", errs.Fatal, err)
	}
	if _, err := q.store.Put(q.deadLetterKey(r.Message.MessageID), body); err != nil {
		return errs.Wrap("queue.Nack", errs.Transient, err)
	}
	if err := q.store.Delete(q.messageKey(r.Message.MessageID)); err != nil {
		return errs.Wrap("queue.Nack", errs.Transient, err)
	}
	return q.leases.Release(r.lease)
}

// Depth returns the number of pending (not dead-lettered) messages, the
// input to the scaler's decision function (spec §7).
func (q *Queue) Depth() (int, error) {
	keys, err := q.pendingKeys()
	if err != nil {
		return 0, errs.Wrap("queue.Depth", errs.Transient, err)
	}
	return len(keys), nil
}

// pendingKeys lists queue/{name}/ and filters out the nested dead-letter
// subdirectory, since List recurses through it too.
func (q *Queue) pendingKeys() ([]string, error) {
	all, err := q.store.List("queue/" + q.Name + "/")
	if err != nil {
		return nil, err
	}
	deadLetterDir := "queue/" + q.Name + "/dead-letter/"
	keys := make([]string, 0, len(all))
	for _, key := range all {
		if strings.HasPrefix(key, deadLetterDir) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func messageIDFromKey(key string) string {
	base := key[strings.LastIndex(key, "/")+1:]
	return strings.TrimSuffix(base, ".json")
}

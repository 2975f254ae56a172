package collector

import (
	"encoding/json"

	"contentpipe/internal/blobstore"
	"contentpipe/internal/errs"
	"contentpipe/internal/pipeline"
)

func putJSON(store *blobstore.Store, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errs.Wrap("collector.putJSON", errs.Fatal, err)
	}
	if _, err := store.Put(key, body); err != nil {
		return errs.Wrap("collector.putJSON", errs.Transient, err)
	}
	return nil
}

// toPayload round-trips a typed message through JSON into the queue's
// map-based RawPayload, matching how every queue envelope defers payload
// decoding to the operation-specific type (spec §6).
func toPayload(msg pipeline.TopicMessage) (pipeline.RawPayload, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errs.Wrap("collector.toPayload", errs.Fatal, err)
	}
	var payload pipeline.RawPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errs.Wrap("collector.toPayload", errs.Fatal, err)
	}
	return payload, nil
}

package queue

import (
	"github.com/ozgurakan/marconi/internal/storage"
	"github.com/ozgurakan/marconi/pkg/id"
)

// Message ids cross the API boundary in their canonical hex form. Decoding
// is strict: anything a client could not have received from this service is
// rejected as malformed rather than treated as a miss.

func decodeMessageID(s string) (id.ID, error) {
	mid, err := id.Parse(s)
	if err != nil {
		return id.Zero, &storage.MalformedIDError{ID: s}
	}
	return mid, nil
}

func decodeAll(ids []string) ([]id.ID, error) {
	out := make([]id.ID, 0, len(ids))
	for _, s := range ids {
		mid, err := decodeMessageID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, mid)
	}
	return out, nil
}

// decodeMarker accepts the empty marker as "start from the beginning".
// Markers are the id of the last message seen, so they share the id codec.
func decodeMarker(s string) (id.ID, error) {
	if s == "" {
		return id.Zero, nil
	}
	mid, err := id.Parse(s)
	if err != nil {
		return id.Zero, &storage.MalformedMarkerError{Marker: s}
	}
	return mid, nil
}

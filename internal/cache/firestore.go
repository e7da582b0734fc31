package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/MeKo-Tech/docstream/internal/document"
)

// DefaultCollection is the Firestore collection used when none is configured.
const DefaultCollection = "docstream_documents"

// FirestoreStore keeps one Firestore document per hash. The entry is stored
// as a JSON payload next to a map of region explanations.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore creates a client for projectID.
func NewFirestoreStore(ctx context.Context, projectID, collection string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, errors.New("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

func (s *FirestoreStore) doc(hash string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(hash)
}

func (s *FirestoreStore) Get(ctx context.Context, hash string) (*document.Entry, error) {
	snap, err := s.doc(hash).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get firestore document: %w", err)
	}
	payload, err := snap.DataAt("payload")
	if err != nil {
		// Only explanations were written so far.
		return nil, ErrNotFound
	}
	data, ok := payload.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", payload)
	}
	return decodeEntry([]byte(data))
}

func (s *FirestoreStore) Put(ctx context.Context, entry *document.Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	_, err = s.doc(entry.Hash).Set(ctx, map[string]any{
		"hash":      entry.Hash,
		"payload":   string(data),
		"pages":     len(entry.Pages),
		"createdAt": entry.CreatedAt,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("set firestore document: %w", err)
	}
	return nil
}

func (s *FirestoreStore) PutExplanation(ctx context.Context, hash, regionID, text string) error {
	_, err := s.doc(hash).Set(ctx, map[string]any{
		"explanations": map[string]any{regionID: text},
		"updatedAt":    time.Now().UTC(),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("set firestore explanation: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Explanations(ctx context.Context, hash string) (map[string]string, error) {
	out := make(map[string]string)
	snap, err := s.doc(hash).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get firestore document: %w", err)
	}
	raw, err := snap.DataAt("explanations")
	if err != nil {
		return out, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected explanations type %T", raw)
	}
	for id, v := range m {
		if s, ok := v.(string); ok {
			out[id] = s
		}
	}
	return out, nil
}

// Close releases the client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/paperdrop/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// PaperNotes records ingested papers in a Firestore collection, one document
// per paper id. Nothing reads the collection back.
type PaperNotes struct {
	client     *firestore.Client
	collection string
	log        *zap.Logger
}

func NewPaperNotes(client *firestore.Client, collection string, log *zap.Logger) *PaperNotes {
	if collection == "" {
		collection = "papers"
	}
	return &PaperNotes{client: client, collection: collection, log: log.With(zap.String("collection", collection))}
}

// RecordPaper upserts the paper's document.
func (n *PaperNotes) RecordPaper(ctx context.Context, p models.Paper) error {
	id := docID(p)
	if id == "" {
		return fmt.Errorf("paper has neither an id nor a file name")
	}
	if p.RecordedAt.IsZero() {
		p.RecordedAt = time.Now().UTC()
	}
	if _, err := n.client.Collection(n.collection).Doc(id).Set(ctx, p); err != nil {
		return fmt.Errorf("failed to record paper %s: %w", id, err)
	}
	n.log.Debug("recorded paper", zap.String("docId", id))
	return nil
}

func (n *PaperNotes) Close() error {
	return n.client.Close()
}

// docID derives a document id. Firestore ids may not contain "/" and may not
// be "." or "..".
func docID(p models.Paper) string {
	id := p.PaperID
	if id == "" {
		id = p.Filename
	}
	id = strings.ReplaceAll(strings.TrimSpace(id), "/", "_")
	if id == "." || id == ".." {
		return ""
	}
	return id
}

// Copyright 2025 Certen Protocol
//
// FirestoreBackend adapts the Firestore client's generic document methods
// into a StorageBackend, for deployments that sync checkpoints to Firestore
// instead of (or alongside) object storage.

package checkpoint

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/certen/inference-host/pkg/firestore"
)

// firestoreObject is the document shape an object's sealed bytes are stored
// as; Firestore has no native blob type friendly to arbitrary byte slices
// across client libraries, so the payload is base64-encoded.
type firestoreObject struct {
	Data string `json:"data"`
}

// FirestoreBackend stores sealed checkpoint objects as Firestore documents
// under a fixed root collection.
type FirestoreBackend struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreBackend returns a FirestoreBackend whose documents live under
// collection (e.g. "checkpoints").
func NewFirestoreBackend(client *firestore.Client, collection string) *FirestoreBackend {
	return &FirestoreBackend{client: client, collection: collection}
}

// docPath maps a logical "H/S/index.json" style path onto a flat document
// path under the backend's root collection; Firestore paths must alternate
// collection/document segments, so slashes in the logical path are joined
// into a single document id.
func (b *FirestoreBackend) docPath(path string) string {
	id := strings.ReplaceAll(path, "/", "__")
	return fmt.Sprintf("%s/%s", b.collection, id)
}

// Put stores data, base64-encoded, in the Firestore document at path.
func (b *FirestoreBackend) Put(ctx context.Context, path string, data []byte) error {
	obj := map[string]interface{}{"data": base64.StdEncoding.EncodeToString(data)}
	return b.client.SetDoc(ctx, b.docPath(path), obj)
}

// Get reads and decodes the document at path.
func (b *FirestoreBackend) Get(ctx context.Context, path string) ([]byte, bool, error) {
	var obj firestoreObject
	found, err := b.client.GetDoc(ctx, b.docPath(path), &obj)
	if err != nil || !found {
		return nil, found, err
	}
	raw, err := base64.StdEncoding.DecodeString(obj.Data)
	if err != nil {
		return nil, false, fmt.Errorf("decode stored object %s: %w", path, err)
	}
	return raw, true, nil
}

// Delete removes the document at path.
func (b *FirestoreBackend) Delete(ctx context.Context, path string) error {
	return b.client.DeleteDoc(ctx, b.docPath(path))
}

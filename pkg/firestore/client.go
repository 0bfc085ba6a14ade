// Copyright 2025 Certen Protocol
//
// Firestore Client
// Firebase Admin SDK client for syncing checkpoint deltas and indexes to Firestore

package firestore

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Client wraps the Firestore client with certen-specific functionality.
type Client struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	projectID string
	logger    *log.Logger
	enabled   bool
	mu        sync.RWMutex
}

// ClientConfig holds configuration for the Firestore client.
type ClientConfig struct {
	// ProjectID is the Firebase/GCP project ID
	ProjectID string

	// CredentialsFile is the path to the service account JSON file.
	// If empty, uses GOOGLE_APPLICATION_CREDENTIALS environment variable.
	CredentialsFile string

	// Enabled controls whether Firestore operations are actually performed.
	// If false, all operations are no-ops (useful for local development).
	Enabled bool

	// Logger for client operations
	Logger *log.Logger
}

// DefaultConfig returns a ClientConfig with values from environment variables.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		ProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         getEnvBool("FIRESTORE_ENABLED", false),
		Logger:          log.New(os.Stdout, "[Firestore] ", log.LstdFlags),
	}
}

// NewClient creates a new Firestore client.
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[Firestore] ", log.LstdFlags)
	}

	client := &Client{
		projectID: cfg.ProjectID,
		logger:    cfg.Logger,
		enabled:   cfg.Enabled,
	}

	if !cfg.Enabled {
		cfg.Logger.Println("Firestore sync is DISABLED - running in no-op mode")
		return client, nil
	}

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("FIREBASE_PROJECT_ID is required when Firestore is enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	// If no credentials file, the SDK uses GOOGLE_APPLICATION_CREDENTIALS or
	// application default credentials (useful in GCP environments).

	config := &firebase.Config{ProjectID: cfg.ProjectID}
	app, err := firebase.NewApp(ctx, config, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	client.app = app
	client.firestore = firestoreClient

	cfg.Logger.Printf("Firestore client initialized for project: %s", cfg.ProjectID)
	return client, nil
}

// Close closes the Firestore client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firestore != nil {
		return c.firestore.Close()
	}
	return nil
}

// IsEnabled returns whether Firestore sync is enabled.
func (c *Client) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Collection returns a reference to a Firestore collection.
func (c *Client) Collection(path string) *gcpfirestore.CollectionRef {
	if !c.IsEnabled() || c.firestore == nil {
		return nil
	}
	return c.firestore.Collection(path)
}

// Doc returns a reference to a Firestore document.
func (c *Client) Doc(path string) *gcpfirestore.DocumentRef {
	if !c.IsEnabled() || c.firestore == nil {
		return nil
	}
	return c.firestore.Doc(path)
}

// SetDoc writes fields to the document at path, replacing it entirely.
func (c *Client) SetDoc(ctx context.Context, path string, fields map[string]interface{}) error {
	if !c.IsEnabled() {
		c.logger.Printf("Firestore disabled - skipping write to %s", path)
		return nil
	}
	if c.firestore == nil {
		return fmt.Errorf("Firestore client not initialized")
	}
	if _, err := c.firestore.Doc(path).Set(ctx, fields); err != nil {
		c.logger.Printf("failed to write %s: %v", path, err)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// GetDoc reads the document at path into dest. Returns (false, nil) if the
// document does not exist or Firestore sync is disabled.
func (c *Client) GetDoc(ctx context.Context, path string, dest interface{}) (bool, error) {
	if !c.IsEnabled() || c.firestore == nil {
		return false, nil
	}
	snap, err := c.firestore.Doc(path).Get(ctx)
	if err != nil {
		return false, nil //nolint:nilerr // checkpoint lookups treat a read error as "not found"
	}
	if !snap.Exists() {
		return false, nil
	}
	if err := snap.DataTo(dest); err != nil {
		return false, fmt.Errorf("parse document %s: %w", path, err)
	}
	return true, nil
}

// ListCollection returns every document in the collection at path.
func (c *Client) ListCollection(ctx context.Context, path string) ([]*gcpfirestore.DocumentSnapshot, error) {
	if !c.IsEnabled() || c.firestore == nil {
		return nil, nil
	}
	return c.firestore.Collection(path).Documents(ctx).GetAll()
}

// DeleteDoc removes the document at path. A no-op, not an error, if it is
// already absent.
func (c *Client) DeleteDoc(ctx context.Context, path string) error {
	if !c.IsEnabled() {
		return nil
	}
	if c.firestore == nil {
		return fmt.Errorf("Firestore client not initialized")
	}
	if _, err := c.firestore.Doc(path).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Batch creates a new Firestore batch for atomic writes.
func (c *Client) Batch() *gcpfirestore.WriteBatch {
	if !c.IsEnabled() || c.firestore == nil {
		return nil
	}
	return c.firestore.Batch()
}

// RunTransaction runs a Firestore transaction.
func (c *Client) RunTransaction(ctx context.Context, f func(context.Context, *gcpfirestore.Transaction) error) error {
	if !c.IsEnabled() || c.firestore == nil {
		return nil
	}
	return c.firestore.RunTransaction(ctx, f)
}

// Health checks if the Firestore connection is healthy.
func (c *Client) Health(ctx context.Context) error {
	if !c.IsEnabled() {
		return nil // disabled is healthy
	}
	if c.firestore == nil {
		return fmt.Errorf("Firestore client not initialized")
	}
	_, err := c.firestore.Collection("_health_check").Doc("ping").Get(ctx)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("firestore health check: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return err != nil && (err.Error() == "rpc error: code = NotFound desc = Document not found" ||
		err.Error() == "rpc error: code = NotFound desc = ")
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1" || val == "yes"
}

package store

import (
	"context"
	"encoding/json"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"
)

// Firebase is the remote document store, backed by a Realtime Database
// instance. Paths map directly to database refs.
type Firebase struct {
	client *db.Client
}

// NewFirebase connects to the Realtime Database at databaseURL. When
// credentialsFile is empty, application-default credentials are used.
func NewFirebase(ctx context.Context, databaseURL, credentialsFile string) (*Firebase, error) {
	conf := &firebase.Config{DatabaseURL: databaseURL}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, err
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, err
	}
	return &Firebase{client: client}, nil
}

// Get reads the raw document at path. Realtime Database returns JSON
// null for absent refs, which is normalized to (nil, nil).
func (f *Firebase) Get(ctx context.Context, path string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := f.client.NewRef(path).Get(ctx, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return raw, nil
}

// Set replaces the document at path.
func (f *Firebase) Set(ctx context.Context, path string, value any) error {
	return f.client.NewRef(path).Set(ctx, value)
}

// Append pushes value under path and returns the database-generated key.
func (f *Firebase) Append(ctx context.Context, path string, value any) (string, error) {
	ref, err := f.client.NewRef(path).Push(ctx, value)
	if err != nil {
		return "", err
	}
	return ref.Key, nil
}

package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "b", Prefix: "/sitemaps/"})
	require.NoError(t, err)
	require.Equal(t, "sitemaps/example.com/abc.xml", store.ObjectName("example.com/abc.xml"))

	bare, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	require.Equal(t, "example.com/abc.xml", bare.ObjectName("example.com/abc.xml"))
}

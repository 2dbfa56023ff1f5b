package filestore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragdesk/internal/config"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(ctx, config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": dir}})
	require.NoError(t, err)
	require.Equal(t, "local", s.Type())

	key := BuildKey("tickets", "report.DOCX")
	require.True(t, strings.HasPrefix(key, "tickets_"))
	require.True(t, strings.HasSuffix(key, ".docx"))

	body := "incident report body"
	require.NoError(t, s.Save(ctx, key, strings.NewReader(body), int64(len(body))))
	rc, err := s.Open(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, body, string(data))
}

func TestLocalStoreRejectsPathKeys(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": t.TempDir()}})
	require.NoError(t, err)
	for _, key := range []string{"", "../x", "a/b", `a\b`} {
		require.Error(t, s.Save(ctx, key, strings.NewReader("x"), 1))
		_, err := s.Open(ctx, key)
		require.Error(t, err)
	}
}

func TestNewValidation(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, config.FileStoreConfig{})
	require.Error(t, err)
	_, err = New(ctx, config.FileStoreConfig{Type: "ftp", Data: map[string]interface{}{}})
	require.Error(t, err)
	_, err = New(ctx, config.FileStoreConfig{Type: "local", Data: map[string]interface{}{}})
	require.Error(t, err)
	_, err = New(ctx, config.FileStoreConfig{Type: "s3", Data: map[string]interface{}{"endpoint": "minio:9000"}})
	require.Error(t, err)
}

func TestBuildKeySanitizesCollection(t *testing.T) {
	key := BuildKey("../evil name", "a.txt")
	require.True(t, validKey(key))
	require.True(t, strings.HasPrefix(key, "evilname_"))
	require.False(t, strings.Contains(BuildKey("", "noext"), "."))
}

func TestNormalizeEndpoint(t *testing.T) {
	require.Equal(t, "http://minio:9000", normalizeEndpoint("minio:9000", false))
	require.Equal(t, "https://minio:9000", normalizeEndpoint("minio:9000", true))
	require.Equal(t, "https://s3.example.com", normalizeEndpoint("https://s3.example.com/", false))
}

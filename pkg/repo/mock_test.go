package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yuya-takeyama/strict-backup/pkg/s3client"
)

type mockObject struct {
	data     string
	checksum string
	metadata map[string]string
}

// mockStore is an in-memory ObjectStore for testing
type mockStore struct {
	objects   map[string]mockObject
	heads     []string
	downloads []string
	headErr   error
}

func (m *mockStore) ListObjects(ctx context.Context, bucket, prefix string) ([]s3client.ItemMetadata, error) {
	var items []s3client.ItemMetadata
	for key, obj := range m.objects {
		if prefix != "" && !strings.HasPrefix(key, prefix+"/") {
			continue
		}
		items = append(items, s3client.ItemMetadata{
			Path:    strings.TrimPrefix(key, prefix+"/"),
			Size:    int64(len(obj.data)),
			ModTime: time.Unix(1700000000, 0),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}

func (m *mockStore) HeadObject(ctx context.Context, bucket, key string) (*s3client.ObjectInfo, error) {
	m.heads = append(m.heads, key)
	if m.headErr != nil {
		return nil, m.headErr
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, s3client.ErrNotFound)
	}
	return &s3client.ObjectInfo{Size: int64(len(obj.data)), Checksum: obj.checksum, Metadata: obj.metadata}, nil
}

func (m *mockStore) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	m.downloads = append(m.downloads, key)
	return []byte(m.objects[key].data), nil
}

package s3client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	data     []byte
	checksum string
	metadata map[string]string
}

// fakeS3 serves one bucket from memory, two keys per listing page.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]fakeObject
	failures map[string]int // op -> number of upcoming failures
	calls    map[string]int
	failWith error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:  map[string]fakeObject{},
		failures: map[string]int{},
		calls:    map[string]int{},
	}
}

func (f *fakeS3) put(key, data string, metadata map[string]string) {
	f.objects[key] = fakeObject{data: []byte(data), metadata: metadata}
}

func (f *fakeS3) fail(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.failures[op] > 0 {
		f.failures[op]--
		return f.failWith
	}
	return nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := f.fail("list"); err != nil {
		return nil, err
	}
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	end := min(start+2, len(keys))

	out := &s3.ListObjectsV2Output{}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(f.objects[k].data))),
			LastModified: aws.Time(time.Unix(1700000000, 0)),
		})
	}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if err := f.fail("head"); err != nil {
		return nil, err
	}
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	out := &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(time.Unix(1700000000, 0)),
		Metadata:      obj.metadata,
	}
	if obj.checksum != "" {
		out.ChecksumSHA256 = aws.String(obj.checksum)
	}
	return out, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := f.fail("get"); err != nil {
		return nil, err
	}
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	total := int64(len(obj.data))
	start, end := int64(0), total-1
	if r := aws.ToString(in.Range); r != "" {
		fmt.Sscanf(r, "bytes=%d-%d", &start, &end)
		end = min(end, total-1)
	}
	part := obj.data[start : end+1]
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(part)),
		ContentLength: aws.Int64(int64(len(part))),
		ContentRange:  aws.String(fmt.Sprintf("bytes %d-%d/%d", start, end, total)),
	}, nil
}

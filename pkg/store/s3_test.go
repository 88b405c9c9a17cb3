package store

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	data []byte
	meta map[string]string
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	puts    int
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string]fakeObject)} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = fakeObject{data: data, meta: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:     io.NopCloser(bytes.NewReader(obj.data)),
		Metadata: obj.meta,
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Prefix)
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, aws.ToString(in.Bucket)+"/"))
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3Store_SaveLoadDelete(t *testing.T) {
	client := newFakeS3()
	s := NewS3Store(client, "bucket", "snaps/")
	ctx := context.Background()

	if err := s.Save(ctx, "a", []byte(`{"v":1}`), time.Time{}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, ok := client.objects["bucket/snaps/a"]; !ok {
		t.Fatalf("object not written under prefix: %v", client.objects)
	}

	data, err := s.Load(ctx, "a")
	if err != nil || string(data) != `{"v":1}` {
		t.Fatalf("Load() = %q, %v", data, err)
	}

	data, err = s.Load(ctx, "missing")
	if err != nil || data != nil {
		t.Fatalf("Load(missing) = %q, %v", data, err)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if data, _ := s.Load(ctx, "a"); data != nil {
		t.Fatalf("deleted snapshot loaded: %q", data)
	}
}

func TestS3Store_ExpiryAndTouch(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := NewS3Store(newFakeS3(), "bucket", "")
	s.now = clock.now
	ctx := context.Background()

	_ = s.Save(ctx, "short", []byte("a"), clock.t.Add(time.Minute))
	_ = s.Save(ctx, "touched", []byte("b"), clock.t.Add(time.Minute))
	if err := s.Touch(ctx, "touched", clock.t.Add(time.Hour)); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}
	if err := s.Touch(ctx, "missing", clock.t.Add(time.Hour)); err != nil {
		t.Fatalf("Touch(missing) error: %v", err)
	}

	clock.t = clock.t.Add(5 * time.Minute)
	if data, _ := s.Load(ctx, "short"); data != nil {
		t.Fatalf("expired snapshot loaded: %q", data)
	}
	if data, _ := s.Load(ctx, "touched"); string(data) != "b" {
		t.Fatalf("Load(touched) = %q", data)
	}
}

func TestS3Store_SaveAllList(t *testing.T) {
	s := NewS3Store(newFakeS3(), "bucket", "p/")
	ctx := context.Background()

	if err := s.SaveAll(ctx, map[string]Record{
		"b": {Data: []byte("2")},
		"a": {Data: []byte("1")},
	}); err != nil {
		t.Fatalf("SaveAll() error: %v", err)
	}
	ids, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("List() = %v", ids)
	}

	_ = s.Close()
	if _, err := s.List(ctx); err == nil {
		t.Fatal("List() after Close succeeded")
	}
}

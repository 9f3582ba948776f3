package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"spadina.network/internal/asset"
)

// fakeBucket is an in-memory S3 endpoint covering the verbs the store
// uses.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" ||
		!strings.HasPrefix(r.Header.Get("Authorization"), "AWS4-HMAC-SHA256 ") {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/bucket/")

	b.mu.Lock()
	defer b.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		b.objects[key] = body
	case http.MethodGet:
		if r.URL.Query().Get("list-type") == "2" {
			var sb strings.Builder
			sb.WriteString(`<ListBucketResult><IsTruncated>false</IsTruncated>`)
			for k := range b.objects {
				fmt.Fprintf(&sb, "<Contents><Key>%s</Key></Contents>", k)
			}
			sb.WriteString(`</ListBucketResult>`)
			w.Write([]byte(sb.String()))
			return
		}
		data, ok := b.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	case http.MethodHead:
		if _, ok := b.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func testS3(t *testing.T) (*S3, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: map[string][]byte{}}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)
	s, err := NewS3(srv.URL, "bucket", "assets", "AKID", "secret")
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	return s, bucket
}

func TestS3PutGetExists(t *testing.T) {
	s, bucket := testS3(t)
	ctx := context.Background()

	data := []byte("remote blob")
	id := asset.ComputeID(data)
	if err := s.Put(ctx, id, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := bucket.objects["assets/"+string(id)]; !ok {
		t.Fatalf("object not stored under prefix, have %v", bucket.objects)
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("Get = %q, want %q", got, data)
	}
	ok, err := s.Exists(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	missing := asset.ComputeID([]byte("absent"))
	if _, err := s.Get(ctx, missing); !errors.Is(err, asset.ErrMissing) {
		t.Fatalf("Get missing = %v, want ErrMissing", err)
	}
	ok, err = s.Exists(ctx, missing)
	if err != nil || ok {
		t.Fatalf("Exists missing = %v, %v", ok, err)
	}
}

func TestS3GetDetectsCorruption(t *testing.T) {
	s, bucket := testS3(t)
	id := asset.ComputeID([]byte("pristine"))
	bucket.objects["assets/"+string(id)] = []byte("tampered")
	if _, err := s.Get(context.Background(), id); !errors.Is(err, asset.ErrMismatch) {
		t.Fatalf("Get tampered = %v, want ErrMismatch", err)
	}
}

func TestS3List(t *testing.T) {
	s, _ := testS3(t)
	ctx := context.Background()
	want := map[asset.ID]bool{}
	for _, body := range []string{"x", "y"} {
		data := []byte(body)
		id := asset.ComputeID(data)
		want[id] = true
		if err := s.Put(ctx, id, data); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	seen := map[asset.ID]bool{}
	err := s.List(ctx, func(id asset.ID) bool {
		seen[id] = true
		return true
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for id := range want {
		if !seen[id] {
			t.Errorf("List missed %s", id)
		}
	}
}

package storage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"voicecollect/pkg/model"
)

type memoryObject struct {
	data      []byte
	createdAt time.Time
}

// MemoryProvider keeps objects in process memory. It backs local runs and
// tests; FailNext injects provider errors.
type MemoryProvider struct {
	mu       sync.Mutex
	objects  map[string]memoryObject
	links    map[string]string
	baseURL  string
	pageSize int
	now      func() time.Time
	failures []error
	puts     int
}

func NewMemoryProvider(baseURL string) *MemoryProvider {
	if baseURL == "" {
		baseURL = "memory://objects"
	}
	return &MemoryProvider{
		objects:  make(map[string]memoryObject),
		links:    make(map[string]string),
		baseURL:  strings.TrimRight(baseURL, "/"),
		pageSize: 100,
		now:      time.Now,
	}
}

func (m *MemoryProvider) Name() string {
	return "memory"
}

// SetPageSize changes how many objects a listing page holds
func (m *MemoryProvider) SetPageSize(n int) {
	m.mu.Lock()
	m.pageSize = n
	m.mu.Unlock()
}

// FailNext makes the next len(errs) provider calls return errs in order
func (m *MemoryProvider) FailNext(errs ...error) {
	m.mu.Lock()
	m.failures = append(m.failures, errs...)
	m.mu.Unlock()
}

// Object returns the stored bytes for key
func (m *MemoryProvider) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj.data, ok
}

// Puts counts successful writes
func (m *MemoryProvider) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func (m *MemoryProvider) injected() error {
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}

func (m *MemoryProvider) Put(ctx context.Context, key string, data []byte, policy model.CollisionPolicy) (model.StoredObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(); err != nil {
		return model.StoredObject{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.StoredObject{}, err
	}

	if _, exists := m.objects[key]; exists && policy == model.CollisionReject {
		return model.StoredObject{}, fmt.Errorf("%s: %w", key, ErrConflict)
	}

	obj := memoryObject{data: append([]byte(nil), data...), createdAt: m.now()}
	m.objects[key] = obj
	m.puts++

	return m.stored(key, obj), nil
}

func (m *MemoryProvider) PublicURL(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(); err != nil {
		return "", err
	}
	if _, ok := m.objects[key]; !ok {
		return "", fmt.Errorf("%s: %w", key, ErrNotFound)
	}

	if url, ok := m.links[key]; ok {
		return url, nil
	}
	url := m.baseURL + "/" + key
	m.links[key] = url
	return url, nil
}

func (m *MemoryProvider) ListPage(ctx context.Context, namespace, cursor string) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(); err != nil {
		return Page{}, err
	}

	prefix := strings.Trim(namespace, "/") + "/"
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(keys) {
			return Page{}, fmt.Errorf("invalid cursor %q", cursor)
		}
		start = n
	}
	end := min(start+m.pageSize, len(keys))

	page := Page{Objects: make([]model.StoredObject, 0, end-start)}
	for _, k := range keys[start:end] {
		page.Objects = append(page.Objects, m.stored(k, m.objects[k]))
	}
	if end < len(keys) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

func (m *MemoryProvider) stored(key string, obj memoryObject) model.StoredObject {
	return model.StoredObject{
		Key:       key,
		Name:      path.Base(key),
		Size:      int64(len(obj.data)),
		CreatedAt: obj.createdAt,
	}
}

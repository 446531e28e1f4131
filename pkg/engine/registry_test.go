package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rhuss/parley/pkg/api"
)

// fakeEngine tracks Close calls.
type fakeEngine struct {
	kind   api.BackendKind
	closed bool
}

func (f *fakeEngine) Kind() api.BackendKind { return f.kind }
func (f *fakeEngine) Generate(context.Context, *Request) (string, error) {
	return "", nil
}
func (f *fakeEngine) Stream(context.Context, *Request) (<-chan Event, error) {
	ch := make(chan Event)
	close(ch)
	return ch, nil
}
func (f *fakeEngine) Info(context.Context) Info { return Info{Kind: f.kind} }
func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

func descriptor(kind api.BackendKind, modelID string) *api.ModelDescriptor {
	return &api.ModelDescriptor{ID: "cat-" + modelID, Kind: kind, ModelID: modelID}
}

func TestRegistry_SameHandleForSameKey(t *testing.T) {
	constructed := 0
	reg := NewRegistry(func(desc *api.ModelDescriptor) (Engine, error) {
		constructed++
		return &fakeEngine{kind: desc.Kind}, nil
	})

	first, err := reg.GetOrCreate(descriptor(api.BackendLocal, "m"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := reg.GetOrCreate(descriptor(api.BackendLocal, "m"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if first != second {
		t.Error("same key returned different handles")
	}
	if constructed != 1 {
		t.Errorf("factory ran %d times, want 1", constructed)
	}
}

func TestRegistry_DistinctKeys(t *testing.T) {
	reg := NewRegistry(func(desc *api.ModelDescriptor) (Engine, error) {
		return &fakeEngine{kind: desc.Kind}, nil
	})

	a, _ := reg.GetOrCreate(descriptor(api.BackendLocal, "m"))
	b, _ := reg.GetOrCreate(descriptor(api.BackendRemote, "m"))
	c, _ := reg.GetOrCreate(descriptor(api.BackendLocal, "other"))

	if a == b || a == c {
		t.Error("different keys share a handle")
	}
	if reg.Len() != 3 {
		t.Errorf("registry holds %d handles, want 3", reg.Len())
	}
}

func TestRegistry_ClearClosesAndRebuilds(t *testing.T) {
	reg := NewRegistry(func(desc *api.ModelDescriptor) (Engine, error) {
		return &fakeEngine{kind: desc.Kind}, nil
	})

	first, _ := reg.GetOrCreate(descriptor(api.BackendLocal, "m"))
	reg.Clear()

	if !first.(*fakeEngine).closed {
		t.Error("clear did not close the handle")
	}
	if reg.Len() != 0 {
		t.Errorf("registry holds %d handles after clear", reg.Len())
	}

	second, _ := reg.GetOrCreate(descriptor(api.BackendLocal, "m"))
	if first == second {
		t.Error("lookup after clear returned the old handle")
	}
}

func TestRegistry_ConcurrentLookupsShareHandle(t *testing.T) {
	constructed := 0 // guarded by the registry mutex
	reg := NewRegistry(func(desc *api.ModelDescriptor) (Engine, error) {
		constructed++
		return &fakeEngine{kind: desc.Kind}, nil
	})

	const workers = 32
	handles := make(chan Engine, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eng, err := reg.GetOrCreate(descriptor(api.BackendLocal, "m"))
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			handles <- eng
		}()
	}
	wg.Wait()
	close(handles)

	first := <-handles
	for eng := range handles {
		if eng != first {
			t.Fatal("concurrent lookups returned different handles")
		}
	}
	if constructed != 1 {
		t.Errorf("factory ran %d times, want 1", constructed)
	}
	if reg.Len() != 1 {
		t.Errorf("registry holds %d handles, want 1", reg.Len())
	}
}

func TestRegistry_FailureNeverPoisonsKey(t *testing.T) {
	calls := 0
	reg := NewRegistry(func(desc *api.ModelDescriptor) (Engine, error) {
		calls++
		if calls == 1 {
			return nil, api.NewBackendInitError("transient")
		}
		return &fakeEngine{kind: desc.Kind}, nil
	})

	_, err := reg.GetOrCreate(descriptor(api.BackendLocal, "m"))
	if err == nil {
		t.Fatal("expected construction failure")
	}
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeBackendInit {
		t.Fatalf("error = %v, want backend_initialization", err)
	}
	if reg.Len() != 0 {
		t.Error("failed construction was cached")
	}

	// The next lookup retries from scratch and succeeds.
	eng, err := reg.GetOrCreate(descriptor(api.BackendLocal, "m"))
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if eng == nil {
		t.Fatal("retry returned nil engine")
	}
	if calls != 2 {
		t.Errorf("factory ran %d times, want 2", calls)
	}
}

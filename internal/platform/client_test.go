package platform_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"storecast/internal/platform"
	"storecast/internal/platform/platformtest"
)

func TestRetriesRateLimitedRequests(t *testing.T) {
	fake := platformtest.New(t)
	fake.AddUser("u1", "100", "Alice", "A")
	fake.RateLimit("GET /api/users", 2)

	users, err := fake.Client().ListUsers(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].ID != "u1" {
		t.Fatalf("unexpected users: %+v", users)
	}
	if got := fake.CountCalls("GET /api/users"); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestExhaustedRetriesBecomeTimeout(t *testing.T) {
	fake := platformtest.New(t)
	fake.RateLimit("GET /api/users", 10)

	_, err := fake.Client(platform.WithRetry(2, 0)).ListUsers(context.Background(), 0, 10)
	var timeout *platform.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if timeout.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", timeout.Attempts)
	}
	if !errors.Is(err, platform.ErrRateLimited) {
		t.Fatalf("timeout should wrap ErrRateLimited")
	}
}

func TestNon2xxIsAPIErrorWithoutRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"bad pluginID"}`))
	}))
	defer srv.Close()

	c := platform.NewClient(srv.URL, "tok", platform.WithRetry(3, 0))
	err := c.Post(context.Background(), "/api/spaces/s/installations", map[string]string{"pluginID": ""}, nil)
	var apiErr *platform.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || !strings.Contains(apiErr.Body, "bad pluginID") {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if hits != 1 {
		t.Fatalf("expected a single attempt, got %d", hits)
	}
}

func TestNoContentIsEmptySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Basic tok" {
			t.Errorf("missing basic credential, got %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var out map[string]any
	c := platform.NewClient(srv.URL, "tok")
	if err := c.Put(context.Background(), "/api/anything", map[string]int{"a": 1}, &out); err != nil {
		t.Fatalf("put: %v", err)
	}
	if out != nil {
		t.Fatalf("expected untouched result, got %v", out)
	}
}

func TestNotFoundHelper(t *testing.T) {
	fake := platformtest.New(t)
	err := fake.Client().DeleteInstallation(context.Background(), "missing")
	if !platform.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUploadSendsMultipartFile(t *testing.T) {
	fake := platformtest.New(t)
	res, err := fake.Client().ImportProfiles(context.Background(), "profiles.csv", []byte("id;storeId\nu1;100\n"))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.ID == "" {
		t.Fatalf("expected import id")
	}
	imports := fake.Imports()
	if len(imports) != 1 || !strings.Contains(imports[0], "u1;100") {
		t.Fatalf("unexpected imports: %v", imports)
	}
}

func TestPaginateStopsOnShortPage(t *testing.T) {
	var offsets []int
	fetch := func(_ context.Context, offset, limit int) ([]int, error) {
		offsets = append(offsets, offset)
		if offset >= 20 {
			return []int{1}, nil
		}
		return make([]int, limit), nil
	}
	all, err := platform.CollectAll(context.Background(), 10, fetch)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(all) != 21 {
		t.Fatalf("expected 21 items, got %d", len(all))
	}
	if len(offsets) != 3 || offsets[2] != 20 {
		t.Fatalf("unexpected offsets %v", offsets)
	}
}

func TestPaginateStopsOnEmptyPage(t *testing.T) {
	calls := 0
	fetch := func(_ context.Context, offset, limit int) ([]string, error) {
		calls++
		if offset == 0 {
			return []string{"a", "b"}, nil
		}
		return nil, nil
	}
	all, err := platform.CollectAll(context.Background(), 2, fetch)
	if err != nil || len(all) != 2 || calls != 2 {
		t.Fatalf("got %v %v after %d calls", all, err, calls)
	}
}

func TestProfileValueForms(t *testing.T) {
	u := platform.User{Profile: map[string]any{"n": float64(42), "s": " 7 ", "b": true, "o": map[string]any{}}}
	if u.ProfileValue("n") != "42" || u.ProfileValue("s") != "7" || u.ProfileValue("b") != "true" {
		t.Fatalf("unexpected scalar forms")
	}
	if u.ProfileValue("o") != "" || u.ProfileValue("missing") != "" {
		t.Fatalf("non-scalar or missing fields should be empty")
	}
}

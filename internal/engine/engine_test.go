package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"storecast/internal/catalog"
	"storecast/internal/config"
	"storecast/internal/domain"
	"storecast/internal/engine"
	"storecast/internal/journal"
	"storecast/internal/metadata"
	"storecast/internal/platform"
	"storecast/internal/platform/platformtest"
)

type testEnv struct {
	Engine  engine.Engine
	Fake    *platformtest.Server
	Journal *journal.Journal
	Ctx     context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	fake := platformtest.New(t)
	fake.AddUser("acc-alice", "100", "Alice", "")
	fake.AddUser("acc-bob", "200", "Bob", "")
	fake.AddUser("acc-nostore", "", "No", "Store")

	j, err := journal.Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	cfg := config.Default(fake.URL, "space-1")
	eng := engine.New(fake.Client(), cfg, j, nil)
	eng.Now = func() time.Time { return time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC) }
	eng.Sleep = func(time.Duration) {}
	return testEnv{Engine: eng, Fake: fake, Journal: j, Ctx: context.Background()}
}

func aliceAndBob() []domain.Account {
	return []domain.Account{
		{AccountID: "acc-alice", StoreID: "100", DisplayName: "Alice"},
		{AccountID: "acc-bob", StoreID: "200", DisplayName: "Bob"},
	}
}

func TestVerifyScenario(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Verify(env.Ctx, []string{"100", "200", "999"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(res.Resolved) != 2 || res.Resolved[0].DisplayName != "Alice" || res.Resolved[1].DisplayName != "Bob" {
		t.Fatalf("unexpected resolved %+v", res.Resolved)
	}
	if !reflect.DeepEqual(res.Unresolved, []string{"999"}) || !res.DirectoryComplete {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestVerifyRejectsEmptyInput(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Verify(env.Ctx, []string{" , "})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVerifyReportsPartialDirectory(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Directory.PageSize = 1
	env.Fake.FailUsersFrom(1)
	res, err := env.Engine.Verify(env.Ctx, []string{"100", "200"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.DirectoryComplete || len(res.Resolved) != 1 || !reflect.DeepEqual(res.Unresolved, []string{"200"}) {
		t.Fatalf("unexpected partial result %+v", res)
	}
}

func TestCreateScenarioWithoutTasks(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Create(env.Ctx, engine.CreateRequest{
		VerifiedAccounts: aliceAndBob(),
		Title:            "Holiday Hours",
		Department:       "Operations",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.TaskCount != 0 || res.ChannelID == "" || res.PostID == "" || res.OperationID == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	insts := env.Fake.Installations()
	if len(insts) != 1 {
		t.Fatalf("expected one channel, got %d", len(insts))
	}
	inst := insts[0]
	if !reflect.DeepEqual(inst.AccessorIDs, []string{"acc-alice", "acc-bob"}) {
		t.Fatalf("unexpected accessors %v", inst.AccessorIDs)
	}
	if inst.PluginID != "news" || inst.Title("en_US") != "Holiday Hours" || inst.Title("de_DE") != "Holiday Hours" {
		t.Fatalf("unexpected channel %+v", inst)
	}
	if inst.ExternalID != "adhoc-"+"1733043600000" {
		t.Fatalf("unexpected external id %q", inst.ExternalID)
	}

	posts := env.Fake.Posts(inst.ID)
	if len(posts) != 1 {
		t.Fatalf("expected one post, got %d", len(posts))
	}
	content := posts[0].Content("en_US")
	if !strings.Contains(content.Teaser, "Targeted Stores: 2") {
		t.Fatalf("teaser lacks target count: %q", content.Teaser)
	}
	meta, ok := metadata.Decode(metadata.Input{ExternalID: inst.ExternalID, Teaser: content.Teaser, Kicker: content.Kicker})
	if !ok || meta.Department != "Operations" || meta.TargetCount != 2 {
		t.Fatalf("metadata not recoverable: %+v", meta)
	}
	if content.Content != "" {
		t.Fatalf("expected empty body without tasks, got %q", content.Content)
	}
	if env.Fake.CountCalls("GET /api/users") != 0 {
		t.Fatalf("verified accounts should not trigger a directory scan")
	}

	entries, err := env.Journal.ForOperation(env.Ctx, res.OperationID)
	if err != nil || len(entries) != 1 || entries[0].Type != journal.TypeDistributionCreated {
		t.Fatalf("unexpected journal %+v %v", entries, err)
	}
}

func TestCreateScenarioWithTaskFile(t *testing.T) {
	env := newTestEnv(t)
	project := env.Fake.AddStoreProject("Store 100")
	env.Fake.AddStoreProject("Store 555")

	file := "title;description;dueDate\n" +
		"Count stock;Back room;2024-12-20\n" +
		";no title;2024-12-21\n" +
		"Clean windows;;\n"
	res, err := env.Engine.Create(env.Ctx, engine.CreateRequest{
		StoreIDs:   []string{"100, 200"},
		Title:      "Inventory",
		Department: "Operations",
		TaskFile:   []byte(file),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.TaskCount != 2 || res.TasksConfirmed != 2 || res.MatchedProjects != 1 {
		t.Fatalf("unexpected fan-out result %+v", res)
	}
	lists := env.Fake.TaskLists(project)
	if len(lists) != 1 || lists[0].Name != "Inventory" {
		t.Fatalf("unexpected task lists %+v", lists)
	}
	tasks := env.Fake.Tasks(lists[0].ID)
	if len(tasks) != 2 || tasks[0].Title != "Count stock" || tasks[0].DueDate != "2024-12-20T00:00:00Z" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	body := env.Fake.Posts(res.ChannelID)[0].Content("en_US").Content
	if !strings.Contains(body, "<ul>") || !strings.Contains(body, "Count stock") || strings.Contains(body, "no title") {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestCreateSkipsChannelsTitledLikeStores(t *testing.T) {
	env := newTestEnv(t)
	project := env.Fake.AddStoreProject("Store 100")
	earlier, err := env.Engine.Create(env.Ctx, engine.CreateRequest{
		StoreIDs: []string{"100"},
		Title:    "Store 100 reopening hours",
	})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	res, err := env.Engine.Create(env.Ctx, engine.CreateRequest{
		StoreIDs: []string{"100"},
		Title:    "Inventory",
		TaskFile: []byte("Count stock\n"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.MatchedProjects != 1 || res.TasksConfirmed != 1 {
		t.Fatalf("unexpected fan-out result %+v", res)
	}
	if len(env.Fake.TaskLists(project)) != 1 {
		t.Fatalf("expected the store project to receive the task list")
	}
	if len(env.Fake.TaskLists(earlier.ChannelID)) != 0 {
		t.Fatalf("distribution channel must not receive tasks")
	}
}

func TestCreateKeepsTitleVerbatim(t *testing.T) {
	env := newTestEnv(t)
	title := "  Holiday Hours (Nord)  "
	res, err := env.Engine.Create(env.Ctx, engine.CreateRequest{
		VerifiedAccounts: aliceAndBob(),
		Title:            title,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	inst := env.Fake.Installations()[0]
	if inst.Title("en_US") != title || inst.Title("de_DE") != title {
		t.Fatalf("channel title changed: %q", inst.Title("en_US"))
	}
	if got := env.Fake.Posts(res.ChannelID)[0].Content("de_DE").Title; got != title {
		t.Fatalf("post title changed: %q", got)
	}
}

func TestCreateToleratesProjectFailure(t *testing.T) {
	env := newTestEnv(t)
	env.Fake.AddStoreProject("Store 100")
	broken := env.Fake.AddStoreProject("Store 200")
	env.Fake.FailTaskLists(broken)

	res, err := env.Engine.Create(env.Ctx, engine.CreateRequest{
		VerifiedAccounts: aliceAndBob(),
		Title:            "Inventory",
		TaskFile:         []byte("Count stock\nClean windows\n"),
	})
	if err != nil {
		t.Fatalf("create should survive a failing project: %v", err)
	}
	if res.TaskCount != 4 || res.TasksConfirmed != 2 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if len(res.FailedProjects) != 1 || res.FailedProjects[0].StoreID != "200" {
		t.Fatalf("unexpected failures %+v", res.FailedProjects)
	}
}

func TestCreateResolvesStoreIDs(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Create(env.Ctx, engine.CreateRequest{StoreIDs: []string{"100", "999"}, Title: "Hello"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Targets != 1 || !reflect.DeepEqual(res.Unresolved, []string{"999"}) {
		t.Fatalf("unexpected resolution %+v", res)
	}
	content := env.Fake.Posts(res.ChannelID)[0].Content("en_US")
	if content.Kicker != "Uncategorized" {
		t.Fatalf("expected placeholder department, got %q", content.Kicker)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []engine.CreateRequest{
		{VerifiedAccounts: aliceAndBob(), Title: "  "},
		{Title: "No targets"},
		{StoreIDs: []string{"999"}, Title: "Unknown stores"},
		{VerifiedAccounts: []domain.Account{{AccountID: " "}}, Title: "Blank accounts"},
	}
	for _, req := range cases {
		_, err := env.Engine.Create(env.Ctx, req)
		var ve engine.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%q: expected validation error, got %v", req.Title, err)
		}
	}
	if len(env.Fake.Installations()) != 0 {
		t.Fatalf("validation failures must not create channels")
	}
}

func TestCreateImportsProfilesFirst(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Create(env.Ctx, engine.CreateRequest{
		StoreIDs:    []string{"100"},
		Title:       "Hello",
		ProfileFile: []byte("id;storeId\nacc-alice;100\n"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	calls := env.Fake.Calls()
	if len(calls) == 0 || calls[0] != "POST /api/users/import" {
		t.Fatalf("expected import first, got %v", calls)
	}
	if len(env.Fake.Imports()) != 1 || res.Targets != 1 {
		t.Fatalf("unexpected import state %+v", res)
	}
}

func TestCreateFailsWhenProfileImportTimesOut(t *testing.T) {
	env := newTestEnv(t)
	env.Fake.RateLimit("POST /api/users/import", 10)
	_, err := env.Engine.Create(env.Ctx, engine.CreateRequest{
		VerifiedAccounts: aliceAndBob(),
		Title:            "Hello",
		ProfileFile:      []byte("x"),
	})
	var timeout *platform.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if len(env.Fake.Installations()) != 0 {
		t.Fatalf("no channel should be created after a failed import")
	}
}

func TestCreateRetriesRateLimitedChannel(t *testing.T) {
	env := newTestEnv(t)
	env.Fake.RateLimit("POST /api/spaces/", 2)
	if _, err := env.Engine.Create(env.Ctx, engine.CreateRequest{VerifiedAccounts: aliceAndBob(), Title: "Hello"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(env.Fake.Installations()) != 1 {
		t.Fatalf("expected a single channel after retries")
	}
}

func TestCreateIgnoresCallerCancellation(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(env.Ctx)
	cancel()
	if _, err := env.Engine.Create(ctx, engine.CreateRequest{VerifiedAccounts: aliceAndBob(), Title: "Hello"}); err != nil {
		t.Fatalf("create should run to completion: %v", err)
	}
}

func TestListAndDelete(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.Create(env.Ctx, engine.CreateRequest{VerifiedAccounts: aliceAndBob(), Title: "Holiday Hours", Department: "Operations"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.Engine.Now = func() time.Time { return time.Date(2024, 12, 2, 9, 0, 0, 0, time.UTC) }
	if _, err := env.Engine.Create(env.Ctx, engine.CreateRequest{VerifiedAccounts: aliceAndBob()[:1], Title: "Menu", Department: "Food"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	env.Fake.AddStoreProject("Store 100")

	res := env.Engine.List(env.Ctx, catalog.Filter{})
	if res.Degraded || len(res.Items) != 2 {
		t.Fatalf("unexpected listing %+v", res)
	}
	if res.Items[0].Title != "Menu" || res.Items[1].Department != "Operations" || res.Items[1].TargetCount != 2 {
		t.Fatalf("unexpected order or metadata %+v", res.Items)
	}
	if res.Items[1].Status != domain.StatusDraft {
		t.Fatalf("unexpected status %s", res.Items[1].Status)
	}

	filtered := env.Engine.List(env.Ctx, catalog.Filter{Department: "food"})
	if len(filtered.Items) != 1 || filtered.Items[0].Title != "Menu" {
		t.Fatalf("unexpected filtered listing %+v", filtered)
	}

	if err := env.Engine.Delete(env.Ctx, first.ChannelID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := env.Engine.List(env.Ctx, catalog.Filter{}); len(got.Items) != 1 {
		t.Fatalf("expected one item after delete, got %d", len(got.Items))
	}
	if err := env.Engine.Delete(env.Ctx, first.ChannelID); !platform.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestListDegradesOnOutage(t *testing.T) {
	env := newTestEnv(t)
	env.Fake.FailInstallations()
	res := env.Engine.List(env.Ctx, catalog.Filter{})
	if !res.Degraded || res.Items == nil || len(res.Items) != 0 || res.Warning == "" {
		t.Fatalf("expected degraded empty listing, got %+v", res)
	}
}

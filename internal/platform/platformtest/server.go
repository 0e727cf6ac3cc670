// Package platformtest runs an in-memory fake of the platform API for tests.
package platformtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"storecast/internal/platform"
)

// Token is the credential the fake accepts.
const Token = "test-token"

// Server is a fake platform tenant backed by memory.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	nextID        int
	users         []platform.User
	installations []platform.Installation
	posts         map[string][]platform.Post
	taskLists     map[string][]platform.TaskList
	tasks         map[string][]platform.TaskRequest
	imports       []string
	calls         []string
	now           func() time.Time

	failUsersFrom     int
	failInstallations bool
	failPosts         map[string]bool
	failTaskLists     map[string]bool
	rateLimits        map[string]int
}

// New starts a fake platform that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		posts:         map[string][]platform.Post{},
		taskLists:     map[string][]platform.TaskList{},
		tasks:         map[string][]platform.TaskRequest{},
		failPosts:     map[string]bool{},
		failTaskLists: map[string]bool{},
		rateLimits:    map[string]int{},
		failUsersFrom: -1,
		now:           time.Now,
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// Client returns a platform client pointed at the fake, without retry delay.
func (s *Server) Client(opts ...platform.Option) *platform.Client {
	base := []platform.Option{platform.WithRetry(3, 0)}
	return platform.NewClient(s.URL, Token, append(base, opts...)...)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)
	r.Get("/api/users", s.listUsers)
	r.Post("/api/users/import", s.importProfiles)
	r.Get("/api/installations", s.listInstallations)
	r.Post("/api/spaces/{spaceID}/installations", s.createInstallation)
	r.Delete("/api/installations/{id}", s.deleteInstallation)
	r.Post("/api/installations/{id}/tasklists", s.createTaskList)
	r.Post("/api/channels/{id}/posts", s.createPost)
	r.Get("/api/channels/{id}/posts", s.listPosts)
	r.Post("/api/tasklists/{id}/tasks", s.createTask)
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Basic "+Token {
			http.Error(w, `{"message":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		call := r.Method + " " + r.URL.Path
		s.mu.Lock()
		s.calls = append(s.calls, call)
		limited := false
		for key, remaining := range s.rateLimits {
			if remaining > 0 && strings.HasPrefix(call, key) {
				s.rateLimits[key] = remaining - 1
				limited = true
				break
			}
		}
		s.mu.Unlock()
		if limited {
			http.Error(w, `{"message":"slow down"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetNow fixes the clock used for created timestamps.
func (s *Server) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddUser adds a directory entry with the storeId profile field. An empty
// storeID adds a user without the field.
func (s *Server) AddUser(id, storeID, first, last string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := platform.User{ID: id, FirstName: first, LastName: last, Profile: map[string]any{}}
	if storeID != "" {
		u.Profile["storeId"] = storeID
	}
	s.users = append(s.users, u)
}

// AddRawUser adds a directory entry as given.
func (s *Server) AddRawUser(u platform.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, u)
}

// AddInstallation stores an installation as given and returns its id.
func (s *Server) AddInstallation(inst platform.Installation) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst.ID == "" {
		inst.ID = s.newID("inst")
	}
	s.installations = append(s.installations, inst)
	return inst.ID
}

// AddStoreProject adds a project installation titled title.
func (s *Server) AddStoreProject(title string) string {
	return s.AddInstallation(platform.Installation{
		PluginID: "tasks",
		Config: platform.InstallationConfig{Localization: map[string]platform.LocalizedTitle{
			"en_US": {Title: title},
		}},
	})
}

// AddPost prepends a post to a channel, making it the latest.
func (s *Server) AddPost(channelID string, post platform.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if post.ID == "" {
		post.ID = s.newID("post")
	}
	s.posts[channelID] = append([]platform.Post{post}, s.posts[channelID]...)
}

// RateLimit answers the next n requests whose "METHOD /path" starts with prefix with 429.
func (s *Server) RateLimit(prefix string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimits[prefix] = n
}

// FailUsersFrom makes directory pages at or past offset fail with 500.
func (s *Server) FailUsersFrom(offset int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUsersFrom = offset
}

// FailInstallations makes installation listing fail with 500.
func (s *Server) FailInstallations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failInstallations = true
}

// FailPosts makes post listing for the channel fail with 500.
func (s *Server) FailPosts(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPosts[channelID] = true
}

// FailTaskLists makes task list creation in the project fail with 500.
func (s *Server) FailTaskLists(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTaskLists[projectID] = true
}

// Installations returns a copy of all installations.
func (s *Server) Installations() []platform.Installation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]platform.Installation(nil), s.installations...)
}

// Posts returns a channel's posts, newest first.
func (s *Server) Posts(channelID string) []platform.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]platform.Post(nil), s.posts[channelID]...)
}

// TaskLists returns the task lists created in a project.
func (s *Server) TaskLists(projectID string) []platform.TaskList {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]platform.TaskList(nil), s.taskLists[projectID]...)
}

// Tasks returns the tasks created in a list.
func (s *Server) Tasks(listID string) []platform.TaskRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]platform.TaskRequest(nil), s.tasks[listID]...)
}

// TaskCount is the number of tasks across all lists.
func (s *Server) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ts := range s.tasks {
		n += len(ts)
	}
	return n
}

// Imports returns the uploaded profile files' contents.
func (s *Server) Imports() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.imports...)
}

// Calls returns "METHOD /path" for every request received, in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CountCalls counts recorded calls starting with prefix.
func (s *Server) CountCalls(prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (s *Server) newID(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func (s *Server) findInstallation(id string) int {
	for i, inst := range s.installations {
		if inst.ID == id {
			return i
		}
	}
	return -1
}

func pageBounds(r *http.Request, n int) (int, int) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	if offset > n {
		offset = n
	}
	end := offset + limit
	if end > n {
		end = n
	}
	return offset, end
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset, end := pageBounds(r, len(s.users))
	if s.failUsersFrom >= 0 && offset >= s.failUsersFrom {
		writeError(w, http.StatusInternalServerError, "directory unavailable")
		return
	}
	writeJSON(w, http.StatusOK, platform.Page[platform.User]{Data: s.users[offset:end]})
}

func (s *Server) listInstallations(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInstallations {
		writeError(w, http.StatusInternalServerError, "installations unavailable")
		return
	}
	offset, end := pageBounds(r, len(s.installations))
	writeJSON(w, http.StatusOK, platform.Page[platform.Installation]{Data: s.installations[offset:end]})
}

func (s *Server) createInstallation(w http.ResponseWriter, r *http.Request) {
	var req platform.InstallationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PluginID == "" {
		writeError(w, http.StatusBadRequest, "pluginID required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inst := platform.Installation{
		ID:          s.newID("channel"),
		PluginID:    req.PluginID,
		ExternalID:  req.ExternalID,
		Created:     s.now().UTC().Format(time.RFC3339),
		AccessorIDs: req.AccessorIDs,
		Config:      req.Config,
	}
	s.installations = append(s.installations, inst)
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) deleteInstallation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.findInstallation(id)
	if idx < 0 {
		writeError(w, http.StatusNotFound, "installation not found")
		return
	}
	s.installations = append(s.installations[:idx], s.installations[idx+1:]...)
	delete(s.posts, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req platform.PostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findInstallation(id) < 0 {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	post := platform.Post{ID: s.newID("post"), Contents: req.Contents}
	s.posts[id] = append([]platform.Post{post}, s.posts[id]...)
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPosts[id] {
		writeError(w, http.StatusInternalServerError, "posts unavailable")
		return
	}
	posts := s.posts[id]
	offset, end := pageBounds(r, len(posts))
	writeJSON(w, http.StatusOK, platform.Page[platform.Post]{Data: posts[offset:end]})
}

func (s *Server) createTaskList(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTaskLists[id] {
		writeError(w, http.StatusInternalServerError, "task lists unavailable")
		return
	}
	if s.findInstallation(id) < 0 {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	list := platform.TaskList{ID: s.newID("list"), Name: req.Name}
	s.taskLists[id] = append(s.taskLists[id], list)
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req platform.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id] = append(s.tasks[id], req)
	writeJSON(w, http.StatusOK, platform.Task{ID: s.newID("task"), Title: req.Title, Status: req.Status})
}

func (s *Server) importProfiles(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imports = append(s.imports, string(data))
	writeJSON(w, http.StatusOK, platform.ImportResult{ID: s.newID("import"), Status: "PENDING"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

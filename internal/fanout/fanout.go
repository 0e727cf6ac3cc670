// Package fanout replicates a task list into every store project that
// matches a set of store ids.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"storecast/internal/domain"
	"storecast/internal/platform"
)

// Platform is the slice of the platform API fan-out needs.
type Platform interface {
	ListInstallations(ctx context.Context, offset, limit int) ([]platform.Installation, error)
	CreateTaskList(ctx context.Context, projectID, name string) (platform.TaskList, error)
	CreateTask(ctx context.Context, listID string, req platform.TaskRequest) (platform.Task, error)
}

const (
	DefaultBatchSize = 5
	DefaultPageSize  = 100
)

// Engine runs task fan-out. The zero value of the numeric fields selects
// the defaults.
type Engine struct {
	Platform  Platform
	BatchSize int
	PageSize  int
	Locales   []string

	// SkipPluginID names the plugin of distribution channels; installations
	// of that plugin are never store projects, whatever their title.
	SkipPluginID string
	Logger       *slog.Logger
}

// ProjectFailure names a project whose fan-out did not finish.
type ProjectFailure struct {
	StoreID   string `json:"storeId"`
	ProjectID string `json:"projectId"`
	Reason    string `json:"reason"`
}

// Summary reports one fan-out run. Intended is rows times matched
// projects, whether or not every project succeeded; Confirmed counts the
// tasks the platform acknowledged.
type Summary struct {
	Intended       int              `json:"intended"`
	Confirmed      int              `json:"confirmed"`
	Matched        int              `json:"matched"`
	Failed         []ProjectFailure `json:"failed"`
	DiscoveryError string           `json:"discoveryError,omitempty"`
}

var storeTitle = regexp.MustCompile(`(?i)^[\s#]*store(?:\s*#\s*|\s+)([A-Za-z0-9_-]+)`)

// StoreIDFromTitle extracts the store token from a "Store <id>" project title.
func StoreIDFromTitle(title string) (string, bool) {
	m := storeTitle.FindStringSubmatch(title)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func (e Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Discover scans every installation in the workspace and returns the store
// projects whose title token is in storeIDs, in the order of storeIDs.
// When two projects claim the same store, the later one wins.
func (e Engine) Discover(ctx context.Context, storeIDs []string) ([]domain.StoreProject, error) {
	wanted := make(map[string]struct{}, len(storeIDs))
	for _, id := range storeIDs {
		wanted[id] = struct{}{}
	}
	pageSize := e.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	byStore := map[string]domain.StoreProject{}
	err := platform.Paginate(ctx, pageSize, e.Platform.ListInstallations, func(page []platform.Installation) error {
		for _, inst := range page {
			if e.SkipPluginID != "" && inst.PluginID == e.SkipPluginID {
				continue
			}
			title := inst.Title(e.Locales...)
			storeID, ok := StoreIDFromTitle(title)
			if !ok {
				continue
			}
			if _, ok := wanted[storeID]; !ok {
				continue
			}
			byStore[storeID] = domain.StoreProject{ProjectID: inst.ID, StoreID: storeID, Title: title}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover store projects: %w", err)
	}

	projects := make([]domain.StoreProject, 0, len(byStore))
	seen := map[string]bool{}
	for _, id := range storeIDs {
		p, ok := byStore[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		projects = append(projects, p)
	}
	return projects, nil
}

// Run discovers the store projects for storeIDs and creates one task list
// named listName holding every task in each of them. Batches of BatchSize
// projects run concurrently; batches run one after another. Failures are
// per project and only reported in the summary and the log.
func (e Engine) Run(ctx context.Context, storeIDs []string, tasks []domain.TaskSpec, listName string) Summary {
	logger := e.logger()
	summary := Summary{Failed: []ProjectFailure{}}
	if len(tasks) == 0 || len(storeIDs) == 0 {
		return summary
	}

	projects, err := e.Discover(ctx, storeIDs)
	if err != nil {
		logger.Error("store project discovery failed",
			"event", "fanout_discovery_failed",
			"module", "fanout",
			"error", err.Error(),
		)
		summary.DiscoveryError = err.Error()
		return summary
	}
	summary.Matched = len(projects)
	summary.Intended = len(tasks) * len(projects)

	confirmed := make([]int, len(projects))
	failures := make([]error, len(projects))
	for _, batch := range Batches(len(projects), e.batchSize()) {
		var g errgroup.Group
		for i := batch.Start; i < batch.End; i++ {
			g.Go(func() error {
				confirmed[i], failures[i] = e.fillProject(ctx, projects[i], tasks, listName)
				return nil
			})
		}
		_ = g.Wait()
	}

	for i, p := range projects {
		summary.Confirmed += confirmed[i]
		if failures[i] == nil {
			continue
		}
		logger.Error("store project fan-out failed",
			"event", "fanout_project_failed",
			"module", "fanout",
			"store_id", p.StoreID,
			"project_id", p.ProjectID,
			"tasks_created", confirmed[i],
			"error", failures[i].Error(),
		)
		summary.Failed = append(summary.Failed, ProjectFailure{
			StoreID:   p.StoreID,
			ProjectID: p.ProjectID,
			Reason:    failures[i].Error(),
		})
	}
	logger.Info("fan-out finished",
		"event", "fanout_finished",
		"module", "fanout",
		"matched_projects", summary.Matched,
		"tasks_intended", summary.Intended,
		"tasks_confirmed", summary.Confirmed,
		"failed_projects", len(summary.Failed),
	)
	return summary
}

func (e Engine) batchSize() int {
	if e.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return e.BatchSize
}

// fillProject creates the task list then each task in order. It stops at
// the first error and returns how many tasks were created before it.
func (e Engine) fillProject(ctx context.Context, p domain.StoreProject, tasks []domain.TaskSpec, listName string) (int, error) {
	list, err := e.Platform.CreateTaskList(ctx, p.ProjectID, listName)
	if err != nil {
		return 0, fmt.Errorf("create task list: %w", err)
	}
	created := 0
	for _, task := range tasks {
		if _, err := e.Platform.CreateTask(ctx, list.ID, TaskRequest(task)); err != nil {
			return created, fmt.Errorf("create task %q: %w", task.Title, err)
		}
		created++
	}
	return created, nil
}

// TaskRequest maps a task row to an open, unassigned platform task.
func TaskRequest(task domain.TaskSpec) platform.TaskRequest {
	req := platform.TaskRequest{
		Title:       strings.TrimSpace(task.Title),
		Description: task.Description,
		Status:      platform.TaskStatusOpen,
		AssigneeIDs: []string{},
	}
	if task.DueDate != nil {
		req.DueDate = task.DueDate.UTC().Format(time.RFC3339)
	}
	return req
}

// Batch is a half-open index range [Start, End).
type Batch struct {
	Start, End int
}

// Batches splits n items into consecutive ranges of at most size items.
func Batches(n, size int) []Batch {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out []Batch
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, Batch{Start: start, End: end})
	}
	return out
}

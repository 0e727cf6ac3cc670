package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"storecast/internal/catalog"
	"storecast/internal/config"
	"storecast/internal/directory"
	"storecast/internal/domain"
	"storecast/internal/fanout"
	"storecast/internal/journal"
	"storecast/internal/metadata"
	"storecast/internal/platform"
	"storecast/internal/taskfile"
)

// Platform is everything the engine asks of the platform API.
type Platform interface {
	directory.UserLister
	fanout.Platform
	catalog.Platform
	CreateInstallation(ctx context.Context, spaceID string, req platform.InstallationRequest) (platform.Installation, error)
	CreatePost(ctx context.Context, channelID string, req platform.PostRequest) (platform.Post, error)
	DeleteInstallation(ctx context.Context, id string) error
	ImportProfiles(ctx context.Context, filename string, data []byte) (platform.ImportResult, error)
}

// ValidationError is an operator input problem; it is never retried.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string { return e.Reason }

type Engine struct {
	Platform Platform
	Config   *config.Config
	Journal  journal.Recorder
	Logger   *slog.Logger
	Now      func() time.Time
	// Sleep is handed to the directory scan for its rate-limit pauses.
	Sleep func(time.Duration)
}

func New(p Platform, cfg *config.Config, j journal.Recorder, logger *slog.Logger) Engine {
	if j == nil {
		j = journal.Discard{}
	}
	return Engine{
		Platform: p,
		Config:   cfg,
		Journal:  j,
		Logger:   logger,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) journal() journal.Recorder {
	if e.Journal != nil {
		return e.Journal
	}
	return journal.Discard{}
}

func (e Engine) record(ctx context.Context, evtType, opID, distID string, payload journal.Payload) {
	if err := e.journal().Record(ctx, evtType, opID, distID, payload); err != nil {
		e.logger().Warn("journal append failed",
			"event", "journal_append_failed",
			"module", "engine",
			"type", evtType,
			"operation_id", opID,
			"error", err.Error(),
		)
	}
}

func (e Engine) directoryBuilder() directory.Builder {
	return directory.Builder{
		Users:          e.Platform,
		StoreIDField:   e.Config.Platform.StoreIDField,
		PageSize:       e.Config.Directory.PageSize,
		PauseEveryRows: e.Config.Directory.PauseEveryRows,
		Pause:          e.Config.DirectoryPause(),
		Logger:         e.logger(),
		Sleep:          e.Sleep,
	}
}

// VerifyResult is a resolution plus whether the directory scan finished.
type VerifyResult struct {
	domain.Resolution
	DirectoryComplete bool `json:"directoryComplete"`
}

// Verify scans the directory and resolves the requested store ids.
func (e Engine) Verify(ctx context.Context, storeIDs []string) (VerifyResult, error) {
	ids := directory.NormalizeIDs(storeIDs)
	if len(ids) == 0 {
		return VerifyResult{}, ValidationError{Reason: "no store ids provided"}
	}
	idx, complete := e.directoryBuilder().Build(ctx)
	res := directory.Resolve(ids, idx)
	e.logger().Info("store ids verified",
		"event", "stores_verified",
		"module", "engine",
		"requested", len(ids),
		"found", len(res.Resolved),
		"not_found", len(res.Unresolved),
		"directory_complete", complete,
	)
	return VerifyResult{Resolution: res, DirectoryComplete: complete}, nil
}

// CreateRequest carries one create submission. VerifiedAccounts wins over
// StoreIDs, which need a fresh directory scan.
type CreateRequest struct {
	VerifiedAccounts []domain.Account
	StoreIDs         []string
	Title            string
	Department       string
	// TaskFile is nil when no task file was uploaded.
	TaskFile        []byte
	ProfileFile     []byte
	ProfileFilename string
}

type CreateResult struct {
	OperationID     string                  `json:"operationId"`
	ChannelID       string                  `json:"channelId"`
	PostID          string                  `json:"postId"`
	TaskCount       int                     `json:"taskCount"`
	TasksConfirmed  int                     `json:"tasksConfirmed"`
	MatchedProjects int                     `json:"matchedProjects"`
	FailedProjects  []fanout.ProjectFailure `json:"failedProjects"`
	Targets         int                     `json:"targets"`
	Unresolved      []string                `json:"unresolved"`
}

// Create runs a distribution end to end: optional profile import, target
// resolution, channel, post and task fan-out. Once started it is not
// cancelled by the caller going away; fan-out failures never fail it.
func (e Engine) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	ctx = context.WithoutCancel(ctx)
	opID := uuid.NewString()
	logger := e.logger().With("operation_id", opID)

	title := req.Title
	if strings.TrimSpace(title) == "" {
		return CreateResult{}, ValidationError{Reason: "title is required"}
	}
	var tasks []domain.TaskSpec
	if req.TaskFile != nil {
		parsed, err := taskfile.Parse(req.TaskFile)
		if err != nil {
			return CreateResult{}, ValidationError{Reason: "invalid task file: " + err.Error()}
		}
		tasks = parsed
	}

	if len(req.ProfileFile) > 0 {
		name := req.ProfileFilename
		if name == "" {
			name = "profiles.csv"
		}
		imp, err := e.Platform.ImportProfiles(ctx, name, req.ProfileFile)
		if err != nil {
			logger.Error("profile import failed", "event", "profile_import_failed", "module", "engine", "error", err.Error())
			e.record(ctx, journal.TypeCreateFailed, opID, "", journal.Payload{"step": "profile_import", "error": err.Error()})
			return CreateResult{}, fmt.Errorf("import profiles: %w", err)
		}
		e.record(ctx, journal.TypeProfilesImported, opID, "", journal.Payload{"import_id": imp.ID, "status": imp.Status})
	}

	accounts, unresolved, err := e.targets(ctx, req)
	if err != nil {
		return CreateResult{}, err
	}
	if len(accounts) == 0 {
		return CreateResult{}, ValidationError{Reason: "no valid targets"}
	}

	department := strings.TrimSpace(req.Department)
	if department == "" {
		department = e.Config.PlaceholderDepartment()
	}
	createdAt := e.now().UTC()
	tok := metadata.Encode(createdAt.UnixMilli(), len(accounts), department)
	accessorIDs := domain.Resolution{Resolved: accounts}.AccountIDs()

	localization := map[string]platform.LocalizedTitle{}
	contents := map[string]platform.PostContent{}
	body := taskfile.RenderHTML(tasks)
	for _, loc := range e.Config.Platform.Locales {
		localization[loc] = platform.LocalizedTitle{Title: title}
		contents[loc] = platform.PostContent{Title: title, Teaser: tok.Teaser, Kicker: tok.Kicker, Content: body}
	}

	inst, err := e.Platform.CreateInstallation(ctx, e.Config.Platform.SpaceID, platform.InstallationRequest{
		PluginID:    e.Config.Distribution.PluginID,
		ExternalID:  tok.ExternalID,
		Config:      platform.InstallationConfig{Localization: localization},
		AccessorIDs: accessorIDs,
	})
	if err != nil {
		logger.Error("channel creation failed", "event", "channel_create_failed", "module", "engine", "error", err.Error())
		e.record(ctx, journal.TypeCreateFailed, opID, "", journal.Payload{"step": "channel", "title": title, "error": err.Error()})
		return CreateResult{}, fmt.Errorf("create channel: %w", err)
	}
	logger.Info("channel created", "event", "channel_created", "module", "engine", "channel_id", inst.ID, "accessors", len(accessorIDs))

	post, err := e.Platform.CreatePost(ctx, inst.ID, platform.PostRequest{Contents: contents})
	if err != nil {
		logger.Error("post creation failed", "event", "post_create_failed", "module", "engine", "channel_id", inst.ID, "error", err.Error())
		e.record(ctx, journal.TypeCreateFailed, opID, inst.ID, journal.Payload{"step": "post", "title": title, "error": err.Error()})
		return CreateResult{}, fmt.Errorf("create post: %w", err)
	}

	result := CreateResult{
		OperationID:    opID,
		ChannelID:      inst.ID,
		PostID:         post.ID,
		FailedProjects: []fanout.ProjectFailure{},
		Targets:        len(accounts),
		Unresolved:     unresolved,
	}
	e.record(ctx, journal.TypeDistributionCreated, opID, inst.ID, journal.Payload{
		"title":       title,
		"department":  department,
		"targets":     len(accounts),
		"post_id":     post.ID,
		"external_id": tok.ExternalID,
		"tasks":       len(tasks),
	})

	if len(tasks) > 0 {
		summary := e.fanout(logger).Run(ctx, storeIDsOf(accounts), tasks, title)
		result.TaskCount = summary.Intended
		result.TasksConfirmed = summary.Confirmed
		result.MatchedProjects = summary.Matched
		result.FailedProjects = summary.Failed
		e.record(ctx, journal.TypeFanoutFinished, opID, inst.ID, journal.Payload{
			"matched":         summary.Matched,
			"intended":        summary.Intended,
			"confirmed":       summary.Confirmed,
			"failed":          summary.Failed,
			"discovery_error": summary.DiscoveryError,
		})
	}

	logger.Info("distribution created",
		"event", "distribution_created",
		"module", "engine",
		"channel_id", inst.ID,
		"post_id", post.ID,
		"targets", len(accounts),
		"task_count", result.TaskCount,
	)
	return result, nil
}

func (e Engine) fanout(logger *slog.Logger) fanout.Engine {
	return fanout.Engine{
		Platform:     e.Platform,
		BatchSize:    e.Config.Fanout.BatchSize,
		PageSize:     e.Config.Fanout.ProjectPageSize,
		Locales:      e.Config.Platform.Locales,
		SkipPluginID: e.Config.Distribution.PluginID,
		Logger:       logger,
	}
}

// targets picks the accounts to address. Pre-verified accounts are used as
// sent, minus blanks and duplicates; otherwise the store ids are resolved.
func (e Engine) targets(ctx context.Context, req CreateRequest) ([]domain.Account, []string, error) {
	if len(req.VerifiedAccounts) > 0 {
		seen := map[string]bool{}
		accounts := make([]domain.Account, 0, len(req.VerifiedAccounts))
		for _, a := range req.VerifiedAccounts {
			a.AccountID = strings.TrimSpace(a.AccountID)
			a.StoreID = strings.TrimSpace(a.StoreID)
			if a.AccountID == "" || seen[a.AccountID] {
				continue
			}
			seen[a.AccountID] = true
			accounts = append(accounts, a)
		}
		return accounts, []string{}, nil
	}
	ids := directory.NormalizeIDs(req.StoreIDs)
	if len(ids) == 0 {
		return nil, nil, ValidationError{Reason: "no store ids provided"}
	}
	idx, _ := e.directoryBuilder().Build(ctx)
	res := directory.Resolve(ids, idx)
	return res.Resolved, res.Unresolved, nil
}

func storeIDsOf(accounts []domain.Account) []string {
	ids := make([]string, 0, len(accounts))
	seen := map[string]bool{}
	for _, a := range accounts {
		if a.StoreID == "" || seen[a.StoreID] {
			continue
		}
		seen[a.StoreID] = true
		ids = append(ids, a.StoreID)
	}
	return ids
}

// ListResult is a catalog listing. Degraded is set when the platform could
// not be read; Items is then empty and Warning says why.
type ListResult struct {
	Items    []domain.Distribution `json:"items"`
	Degraded bool                  `json:"degraded,omitempty"`
	Warning  string                `json:"warning,omitempty"`
}

// List returns the filtered distributions, newest first. It does not fail.
func (e Engine) List(ctx context.Context, filter catalog.Filter) ListResult {
	reader := catalog.Reader{
		Platform:     e.Platform,
		PluginID:     e.Config.Distribution.PluginID,
		Locales:      e.Config.Platform.Locales,
		Placeholder:  e.Config.PlaceholderDepartment(),
		PageSize:     e.Config.Fanout.ProjectPageSize,
		PostFetchers: e.Config.Fanout.BatchSize,
		Logger:       e.logger(),
	}
	items, err := reader.List(ctx)
	if err != nil {
		e.logger().Error("listing failed",
			"event", "catalog_degraded",
			"module", "engine",
			"error", err.Error(),
		)
		return ListResult{Items: []domain.Distribution{}, Degraded: true, Warning: err.Error()}
	}
	return ListResult{Items: filter.Apply(items)}
}

// Delete removes a distribution's channel; the platform cascades its posts.
func (e Engine) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ValidationError{Reason: "distribution id is required"}
	}
	if err := e.Platform.DeleteInstallation(ctx, id); err != nil {
		return fmt.Errorf("delete distribution %s: %w", id, err)
	}
	e.record(ctx, journal.TypeDistributionDeleted, "", id, nil)
	e.logger().Info("distribution deleted", "event", "distribution_deleted", "module", "engine", "distribution_id", id)
	return nil
}

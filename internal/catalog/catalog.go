// Package catalog reconstructs the list of distributions storecast has
// created from the platform's installations and their latest posts.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"storecast/internal/domain"
	"storecast/internal/metadata"
	"storecast/internal/platform"
)

// Platform is the slice of the platform API the catalog reads.
type Platform interface {
	ListInstallations(ctx context.Context, offset, limit int) ([]platform.Installation, error)
	LatestPost(ctx context.Context, channelID string) (*platform.Post, error)
}

// Reader lists distributions. Zero numeric fields select defaults.
type Reader struct {
	Platform    Platform
	PluginID    string
	Locales     []string
	Placeholder string
	PageSize    int
	// PostFetchers bounds concurrent latest-post lookups.
	PostFetchers int
	Logger       *slog.Logger
}

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	Department string
	Status     domain.LifecycleStatus
	Query      string
}

type candidate struct {
	inst platform.Installation
	meta metadata.Metadata
	dist domain.Distribution
}

// List returns every recognized distribution, newest first. Installations
// that match no known encoding are skipped. A failed post lookup leaves
// that distribution as a draft with provisional metadata; only a failed
// installation scan fails the call.
func (r Reader) List(ctx context.Context) ([]domain.Distribution, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := r.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	placeholder := r.Placeholder
	if placeholder == "" {
		placeholder = metadata.DefaultPlaceholder
	}

	installations, err := platform.CollectAll(ctx, pageSize, r.Platform.ListInstallations)
	if err != nil {
		return nil, fmt.Errorf("list installations: %w", err)
	}
	var found []*candidate
	scanned, skipped := len(installations), 0
	for _, inst := range installations {
		if r.PluginID != "" && inst.PluginID != r.PluginID {
			continue
		}
		c, ok := r.recognize(inst, placeholder)
		if !ok {
			skipped++
			continue
		}
		found = append(found, c)
	}

	var g errgroup.Group
	limit := r.PostFetchers
	if limit <= 0 {
		limit = 5
	}
	g.SetLimit(limit)
	for _, c := range found {
		g.Go(func() error {
			post, err := r.Platform.LatestPost(ctx, c.inst.ID)
			if err != nil {
				logger.Warn("latest post lookup failed",
					"event", "catalog_post_failed",
					"module", "catalog",
					"distribution_id", c.inst.ID,
					"error", err.Error(),
				)
				return nil
			}
			r.applyPost(c, post, placeholder)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.Distribution, 0, len(found))
	for _, c := range found {
		out = append(out, c.dist)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	logger.Info("catalog listed",
		"event", "catalog_listed",
		"module", "catalog",
		"installations_scanned", scanned,
		"distributions", len(out),
		"unrecognized", skipped,
	)
	return out, nil
}

func (r Reader) recognize(inst platform.Installation, placeholder string) (*candidate, bool) {
	title := inst.Title(r.Locales...)
	meta, ok := metadata.Recognize(metadata.Input{
		ExternalID:        inst.ExternalID,
		Title:             title,
		FallbackCreatedAt: parseCreated(inst.Created),
		FallbackCount:     len(inst.AccessorIDs),
		Placeholder:       placeholder,
	})
	if !ok {
		return nil, false
	}
	if meta.Title != "" {
		title = meta.Title
	}
	return &candidate{
		inst: inst,
		meta: meta,
		dist: domain.Distribution{
			ID:          inst.ID,
			Title:       title,
			Department:  meta.Department,
			TargetCount: meta.TargetCount,
			CreatedAt:   meta.CreatedAt,
			Status:      domain.StatusDraft,
			AccessorIDs: inst.AccessorIDs,
			Encoding:    string(meta.Generation),
		},
	}, true
}

func (r Reader) applyPost(c *candidate, post *platform.Post, placeholder string) {
	if post == nil {
		return
	}
	c.dist.Status = StatusOf(*post)
	if !c.meta.NeedsPost() {
		return
	}
	content := post.Content(r.Locales...)
	meta := metadata.ApplyPost(c.meta, content.Teaser, content.Kicker, content.Content, len(c.inst.AccessorIDs), placeholder)
	c.dist.Department = meta.Department
	c.dist.TargetCount = meta.TargetCount
}

// StatusOf derives the lifecycle status from a post's publication fields.
func StatusOf(post platform.Post) domain.LifecycleStatus {
	switch {
	case strings.TrimSpace(post.Published) != "":
		return domain.StatusPublished
	case strings.TrimSpace(post.Planned) != "":
		return domain.StatusScheduled
	default:
		return domain.StatusDraft
	}
}

func parseCreated(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Apply keeps the distributions matching every set field of f, in order.
func (f Filter) Apply(items []domain.Distribution) []domain.Distribution {
	out := make([]domain.Distribution, 0, len(items))
	query := strings.ToLower(strings.TrimSpace(f.Query))
	for _, d := range items {
		if f.Department != "" && !strings.EqualFold(strings.TrimSpace(f.Department), d.Department) {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(d.Title), query) {
			continue
		}
		out = append(out, d)
	}
	return out
}

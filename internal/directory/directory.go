package directory

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"storecast/internal/domain"
	"storecast/internal/platform"
)

// UserLister fetches one page of the platform directory.
type UserLister interface {
	ListUsers(ctx context.Context, offset, limit int) ([]platform.User, error)
}

// Index maps a store id to its directory account.
type Index map[string]domain.Account

// Builder scans the full directory into an Index.
type Builder struct {
	Users          UserLister
	StoreIDField   string
	PageSize       int
	PauseEveryRows int
	Pause          time.Duration
	Logger         *slog.Logger
	// Sleep waits between page bursts; nil uses time.Sleep.
	Sleep func(time.Duration)
}

// Build paginates the directory and indexes every user carrying the store
// id field. It never fails: when a page fetch errors, the scan stops and
// the accounts gathered so far are returned with complete set to false.
func (b Builder) Build(ctx context.Context) (idx Index, complete bool) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleep := b.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	pageSize := b.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	idx = Index{}
	scanned, sincePause, skipped := 0, 0, 0
	err := platform.Paginate(ctx, pageSize, b.Users.ListUsers, func(page []platform.User) error {
		for _, u := range page {
			storeID := u.ProfileValue(b.StoreIDField)
			if storeID == "" {
				skipped++
				continue
			}
			// last write wins on duplicate store ids
			idx[storeID] = domain.Account{
				AccountID:   u.ID,
				StoreID:     storeID,
				DisplayName: u.DisplayName(),
			}
		}
		scanned += len(page)
		sincePause += len(page)
		if b.PauseEveryRows > 0 && b.Pause > 0 && sincePause >= b.PauseEveryRows && len(page) == pageSize {
			sleep(b.Pause)
			sincePause = 0
		}
		return nil
	})
	if err != nil {
		logger.Warn("directory scan stopped early",
			"event", "directory_scan_partial",
			"module", "directory",
			"scanned", scanned,
			"indexed", len(idx),
			"error", err.Error(),
		)
		return idx, false
	}
	logger.Info("directory scanned",
		"event", "directory_scanned",
		"module", "directory",
		"scanned", scanned,
		"indexed", len(idx),
		"skipped_without_store_id", skipped,
	)
	return idx, true
}

var separators = regexp.MustCompile(`[\s,]+`)

// NormalizeIDs splits every entry on whitespace and comma runs, drops
// empties and removes duplicates, keeping first-seen order.
func NormalizeIDs(raw []string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, entry := range raw {
		for _, id := range separators.Split(entry, -1) {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Resolve partitions the normalized request against the index. It makes
// no network calls.
func Resolve(requested []string, idx Index) domain.Resolution {
	res := domain.Resolution{Resolved: []domain.Account{}, Unresolved: []string{}}
	for _, id := range NormalizeIDs(requested) {
		if acct, ok := idx[id]; ok {
			res.Resolved = append(res.Resolved, acct)
			continue
		}
		res.Unresolved = append(res.Unresolved, id)
	}
	return res
}

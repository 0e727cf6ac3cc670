package platform

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Page is the platform's list envelope. Total is not reliably populated
// and is never used to stop pagination.
type Page[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total,omitempty"`
}

// User is a directory entry.
type User struct {
	ID         string         `json:"id"`
	FirstName  string         `json:"firstName,omitempty"`
	LastName   string         `json:"lastName,omitempty"`
	ExternalID string         `json:"externalID,omitempty"`
	Profile    map[string]any `json:"profile,omitempty"`
}

// ProfileValue returns the string form of a custom profile field, or ""
// when the field is missing or not scalar.
func (u User) ProfileValue(field string) string {
	v, ok := u.Profile[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// DisplayName is a best-effort human label.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.ExternalID != "" {
		return u.ExternalID
	}
	return u.ID
}

// LocalizedTitle is a per-locale title block.
type LocalizedTitle struct {
	Title string `json:"title"`
}

// InstallationConfig carries per-locale display titles.
type InstallationConfig struct {
	Localization map[string]LocalizedTitle `json:"localization,omitempty"`
}

// Installation is a plugin instance in a space: a news channel or a store project.
type Installation struct {
	ID          string             `json:"id"`
	PluginID    string             `json:"pluginID"`
	ExternalID  string             `json:"externalID,omitempty"`
	Created     string             `json:"created,omitempty"`
	AccessorIDs []string           `json:"accessorIDs,omitempty"`
	Config      InstallationConfig `json:"config"`
}

// Title returns the first non-empty title, preferring the given locales in order.
func (i Installation) Title(locales ...string) string {
	for _, loc := range locales {
		if t := strings.TrimSpace(i.Config.Localization[loc].Title); t != "" {
			return t
		}
	}
	best := ""
	bestLoc := ""
	for loc, lt := range i.Config.Localization {
		t := strings.TrimSpace(lt.Title)
		if t == "" {
			continue
		}
		// map order is random; pick the smallest locale key for a stable result
		if best == "" || loc < bestLoc {
			best, bestLoc = t, loc
		}
	}
	return best
}

// InstallationRequest creates an installation.
type InstallationRequest struct {
	PluginID    string             `json:"pluginID"`
	ExternalID  string             `json:"externalID,omitempty"`
	Config      InstallationConfig `json:"config"`
	AccessorIDs []string           `json:"accessorIDs"`
}

// PostContent is one locale's post text.
type PostContent struct {
	Title   string `json:"title"`
	Teaser  string `json:"teaser,omitempty"`
	Kicker  string `json:"kicker,omitempty"`
	Content string `json:"content,omitempty"`
}

// Post is a channel post.
type Post struct {
	ID        string                 `json:"id"`
	Published string                 `json:"published,omitempty"`
	Planned   string                 `json:"planned,omitempty"`
	Contents  map[string]PostContent `json:"contents,omitempty"`
}

// Content returns the first locale's content, preferring the given locales in order.
func (p Post) Content(locales ...string) PostContent {
	for _, loc := range locales {
		if c, ok := p.Contents[loc]; ok {
			return c
		}
	}
	bestLoc := ""
	var best PostContent
	for loc, c := range p.Contents {
		if bestLoc == "" || loc < bestLoc {
			best, bestLoc = c, loc
		}
	}
	return best
}

// PostRequest creates a post.
type PostRequest struct {
	Contents map[string]PostContent `json:"contents"`
}

// TaskList is a list inside a store project.
type TaskList struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// TaskRequest creates a task.
type TaskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	DueDate     string   `json:"dueDate,omitempty"`
	Status      string   `json:"status"`
	AssigneeIDs []string `json:"assigneeIds"`
}

// Task is a created task.
type Task struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status,omitempty"`
}

// ImportResult is the platform's answer to a profile import upload.
type ImportResult struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

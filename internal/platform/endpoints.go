package platform

import (
	"context"
	"fmt"
	"net/url"
)

// TaskStatusOpen is the status given to every task created by fan-out.
const TaskStatusOpen = "OPEN"

// ListUsers fetches one directory page.
func (c *Client) ListUsers(ctx context.Context, offset, limit int) ([]User, error) {
	var page Page[User]
	if err := c.Get(ctx, fmt.Sprintf("/api/users?limit=%d&offset=%d", limit, offset), &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

// ListInstallations fetches one page of installations across the workspace.
func (c *Client) ListInstallations(ctx context.Context, offset, limit int) ([]Installation, error) {
	var page Page[Installation]
	if err := c.Get(ctx, fmt.Sprintf("/api/installations?limit=%d&offset=%d", limit, offset), &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

// CreateInstallation creates a plugin installation in a space.
func (c *Client) CreateInstallation(ctx context.Context, spaceID string, req InstallationRequest) (Installation, error) {
	var inst Installation
	err := c.Post(ctx, "/api/spaces/"+url.PathEscape(spaceID)+"/installations", req, &inst)
	return inst, err
}

// DeleteInstallation removes an installation; the platform cascades its posts.
func (c *Client) DeleteInstallation(ctx context.Context, id string) error {
	return c.Delete(ctx, "/api/installations/"+url.PathEscape(id), nil)
}

// CreatePost creates a post in a news channel.
func (c *Client) CreatePost(ctx context.Context, channelID string, req PostRequest) (Post, error) {
	var post Post
	err := c.Post(ctx, "/api/channels/"+url.PathEscape(channelID)+"/posts", req, &post)
	return post, err
}

// LatestPost returns the channel's most recent post, or nil when it has none.
func (c *Client) LatestPost(ctx context.Context, channelID string) (*Post, error) {
	var page Page[Post]
	if err := c.Get(ctx, "/api/channels/"+url.PathEscape(channelID)+"/posts?limit=1", &page); err != nil {
		return nil, err
	}
	if len(page.Data) == 0 {
		return nil, nil
	}
	return &page.Data[0], nil
}

// CreateTaskList creates a task list in a store project.
func (c *Client) CreateTaskList(ctx context.Context, projectID, name string) (TaskList, error) {
	var list TaskList
	err := c.Post(ctx, "/api/installations/"+url.PathEscape(projectID)+"/tasklists", map[string]string{"name": name}, &list)
	return list, err
}

// CreateTask creates a task in a task list.
func (c *Client) CreateTask(ctx context.Context, listID string, req TaskRequest) (Task, error) {
	var task Task
	err := c.Post(ctx, "/api/tasklists/"+url.PathEscape(listID)+"/tasks", req, &task)
	return task, err
}

// ImportProfiles uploads a user profile CSV.
func (c *Client) ImportProfiles(ctx context.Context, filename string, data []byte) (ImportResult, error) {
	var res ImportResult
	err := c.Upload(ctx, "/api/users/import", "file", filename, data, &res)
	return res, err
}

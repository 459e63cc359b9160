package api

import (
	"context"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/rosterly/realtime/internal/model"
)

// listResponse is the envelope for GET /notifications.
type listResponse struct {
	Notifications []model.Notification `json:"notifications"`
	Cursor        string               `json:"cursor"`
}

// countResponse is the envelope for GET /notifications/unread_count.
type countResponse struct {
	Count int `json:"count"`
}

// markReadRequest is the body for POST /notifications/mark_read.
type markReadRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

// ListNotifications fetches notifications for a subject, newest first.
// since is a µs-since-epoch lower bound (0 = no bound); limit caps the page
// size (0 = server default).
func (c *Client) ListNotifications(ctx context.Context, subjectID string, since int64, limit int) ([]model.Notification, error) {
	query := url.Values{}
	query.Set("subject_id", subjectID)
	if since > 0 {
		query.Set("since", strconv.FormatInt(since, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp listResponse
	if err := c.get(ctx, "/notifications", query, &resp); err != nil {
		return nil, err
	}

	return resp.Notifications, nil
}

// UnreadCount returns the number of unread notifications for a subject.
func (c *Client) UnreadCount(ctx context.Context, subjectID string) (int, error) {
	query := url.Values{}
	query.Set("subject_id", subjectID)

	var resp countResponse
	if err := c.get(ctx, "/notifications/unread_count", query, &resp); err != nil {
		return 0, err
	}

	return resp.Count, nil
}

// MarkRead marks the given notifications as read.
func (c *Client) MarkRead(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return c.post(ctx, "/notifications/mark_read", markReadRequest{IDs: ids})
}

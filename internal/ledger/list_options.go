package ledger

import (
	"strings"
	"time"
)

// SortOrder defines how results should be ordered when listing proposals.
type SortOrder int

const (
	// SortByReviewQueue orders proposals by priority, then CreatedAt ascending.
	// This is the order the review surface presents pending work in.
	SortByReviewQueue SortOrder = iota
	// SortByCreatedDesc orders proposals by CreatedAt descending (most recent first).
	SortByCreatedDesc
	// SortByCreatedAsc orders proposals by CreatedAt ascending (oldest first).
	SortByCreatedAsc
)

// ListOptions controls how proposals are selected when querying the store.
type ListOptions struct {
	Limit      int
	Offset     int
	AgentID    string
	ActionName string
	Statuses   []Status
	CreatedGTE int64
	CreatedLTE int64
	ParentID   string
	Order      SortOrder
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	opts.AgentID = strings.TrimSpace(opts.AgentID)
	opts.ActionName = strings.TrimSpace(opts.ActionName)
	opts.ParentID = strings.TrimSpace(opts.ParentID)
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of proposals returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching proposals before returning results.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithAgent filters proposals by the proposing agent.
func WithAgent(agentID string) ListOption {
	return func(opts *ListOptions) {
		opts.AgentID = agentID
	}
}

// WithAction filters proposals by action name.
func WithAction(actionName string) ListOption {
	return func(opts *ListOptions) {
		opts.ActionName = actionName
	}
}

// WithStatuses filters proposals by the provided statuses.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithCreatedSince filters proposals created after the provided instant (inclusive).
func WithCreatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.CreatedGTE = 0
			return
		}
		opts.CreatedGTE = ts.Unix()
	}
}

// WithCreatedUntil filters proposals created before the provided instant (inclusive).
func WithCreatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.CreatedLTE = 0
			return
		}
		opts.CreatedLTE = ts.Unix()
	}
}

// WithParent filters proposals spawned under the given parent proposal.
func WithParent(parentID string) ListOption {
	return func(opts *ListOptions) {
		opts.ParentID = parentID
	}
}

// WithSortOrder changes the returned order of proposals.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// buildListOptions applies option functions on top of defaults.
func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		switch status {
		case StatusPending, StatusApproved, StatusRejected:
		default:
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

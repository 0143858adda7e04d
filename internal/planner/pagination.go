package planner

import (
	"strings"

	"sqlprovider/internal/apperr"
)

// DefaultPageSize is used when a server-paginated list read names no size.
const DefaultPageSize = 10

// Pagination modes.
const (
	ModeServer = "server"
	ModeOff    = "off"
)

// Pagination is the single accepted pagination shape. When Limit is set the
// explicit limit/offset form applies; otherwise Page/PageSize (1-indexed).
// Mode "off" disables pagination.
type Pagination struct {
	Mode     string `json:"mode,omitempty" mapstructure:"mode"`
	Page     int    `json:"page,omitempty" mapstructure:"page"`
	PageSize *int   `json:"pageSize,omitempty" mapstructure:"page_size"`
	Limit    *int   `json:"limit,omitempty" mapstructure:"limit"`
	Offset   int    `json:"offset,omitempty" mapstructure:"offset"`
}

// Window is a compiled LIMIT/OFFSET pair. A zero Limit means no limit.
type Window struct {
	Limit  uint64
	Offset uint64
}

// Unbounded reports whether the window applies no limit.
func (w Window) Unbounded() bool {
	return w.Limit == 0 && w.Offset == 0
}

// Disabled reports whether pagination is turned off.
func (p Pagination) Disabled() bool {
	return strings.EqualFold(p.Mode, ModeOff)
}

// NormalizeListPagination applies list-read rules: page below 1 becomes 1, a
// missing page size becomes DefaultPageSize, an explicit page size or limit of
// zero or less is rejected, as is a negative offset.
func NormalizeListPagination(p Pagination) (Pagination, error) {
	switch strings.ToLower(p.Mode) {
	case "", ModeServer:
		p.Mode = ModeServer
	case ModeOff:
		p.Mode = ModeOff
		return p, nil
	default:
		return p, apperr.Validation("invalid pagination mode %q", p.Mode)
	}

	if p.Limit != nil {
		if *p.Limit <= 0 {
			return p, apperr.Validation("limit must be greater than 0, got %d", *p.Limit)
		}
		if p.Offset < 0 {
			return p, apperr.Validation("offset must not be negative")
		}
		return p, nil
	}

	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize == nil {
		size := DefaultPageSize
		p.PageSize = &size
	} else if *p.PageSize <= 0 {
		return p, apperr.Validation("pageSize must be greater than 0, got %d", *p.PageSize)
	}
	return p, nil
}

// CompilePagination converts p to a window. Mode off yields an empty window.
// Page/PageSize are validated strictly here; list reads normalize first. An
// explicit limit must be positive; an offset alone skips rows without a limit.
func CompilePagination(p Pagination) (Window, error) {
	if p.Disabled() {
		return Window{}, nil
	}
	if p.Offset < 0 {
		return Window{}, apperr.Validation("offset must not be negative")
	}
	if p.Limit != nil {
		if *p.Limit <= 0 {
			return Window{}, apperr.Validation("limit must be greater than 0, got %d", *p.Limit)
		}
		return Window{Limit: uint64(*p.Limit), Offset: uint64(p.Offset)}, nil
	}
	if p.PageSize == nil {
		if p.Page == 0 {
			return Window{Offset: uint64(p.Offset)}, nil
		}
		return Window{}, apperr.Validation("page requires pageSize")
	}
	if *p.PageSize <= 0 {
		return Window{}, apperr.Validation("pageSize must be greater than 0, got %d", *p.PageSize)
	}
	if p.Page < 1 {
		return Window{}, apperr.Validation("page must be at least 1, got %d", p.Page)
	}
	size := uint64(*p.PageSize)
	return Window{Limit: size, Offset: uint64(p.Page-1) * size}, nil
}

// Page is a convenience constructor for page/pageSize pagination.
func Page(page, pageSize int) Pagination {
	return Pagination{Page: page, PageSize: &pageSize}
}

// LimitOffset is a convenience constructor for limit/offset pagination.
func LimitOffset(limit, offset int) Pagination {
	return Pagination{Limit: &limit, Offset: offset}
}

// Off disables pagination.
func Off() Pagination {
	return Pagination{Mode: ModeOff}
}

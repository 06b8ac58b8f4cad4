package catalog

import "errors"

// 目录层的哨兵错误，由 API 层映射为 HTTP 状态码。
var (
	ErrNotFound    = errors.New("not found")
	ErrNoNewTypes  = errors.New("entity already exists with these types")
	ErrInvalidType = errors.New("invalid entity type")
)

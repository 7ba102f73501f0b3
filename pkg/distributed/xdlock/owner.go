package xdlock

import "github.com/google/uuid"

// NewOwner 生成随机持有者标识（UUID v4）。
func NewOwner() string {
	return uuid.NewString()
}

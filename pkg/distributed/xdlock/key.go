package xdlock

import (
	"slices"
	"strings"
)

// maxKeyLength 逻辑 key 最大长度
const maxKeyLength = 512

// keyPrefix 所有存储记录的公共前缀
const keyPrefix = "lock"

// validateKey 验证锁 key 是否有效。
func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if len(key) > maxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// joinKey 将组合 key 以 ":" 连接为逻辑 key。
func joinKey(parts []string) (string, error) {
	if len(parts) == 0 {
		return "", ErrEmptyKey
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return "", ErrEmptyKey
		}
	}
	key := strings.Join(parts, ":")
	if err := validateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// sortedKeys 排序并去重，作为多资源锁的全局获取顺序。
func sortedKeys(keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, ErrEmptyKey
	}
	out := slices.Clone(keys)
	for _, k := range out {
		if err := validateKey(k); err != nil {
			return nil, err
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// recordKey 构建存储键：lock:<namespace>:<key>[:<suffix>...]
func recordKey(namespace, key string, suffix ...string) string {
	var b strings.Builder
	b.Grow(len(keyPrefix) + len(namespace) + len(key) + 2 + 16*len(suffix))
	b.WriteString(keyPrefix)
	b.WriteByte(':')
	b.WriteString(namespace)
	b.WriteByte(':')
	b.WriteString(key)
	for _, s := range suffix {
		b.WriteByte(':')
		b.WriteString(s)
	}
	return b.String()
}

// namespace 读锁与写锁共享 readwrite 命名空间。
func namespace(t Type) string {
	if t == TypeRead || t == TypeWrite {
		return "readwrite"
	}
	return string(t)
}

package xdlock

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/omeyang/xlocker/pkg/storage/xstore"
)

// maxListRetries 乐观更新共享列表的最大重试次数
const maxListRetries = 32

// updateList 以比较交换的方式修改存储中的 JSON 字符串数组。
//
// fn 接收当前列表（可安全修改），返回新列表及是否需要写回；新列表为空时删除 key。
// 每次冲突重试都会重新调用 fn。存储不支持比较交换时退化为读后写。
func updateList(ctx context.Context, store xstore.Store, key string, ttl time.Duration,
	fn func(list []string) ([]string, bool)) ([]string, error) {
	cas, hasCAS := xstore.AsCompareAndSwapper(store)

	for range maxListRetries {
		raw, found, err := store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		list, err := decodeList(key, raw, found)
		if err != nil {
			return nil, err
		}

		next, write := fn(slices.Clone(list))
		if !write {
			return list, nil
		}

		if len(next) == 0 {
			if !found {
				return nil, nil
			}
			deleted, err := deleteIfValue(ctx, store, key, raw)
			if err != nil {
				return nil, err
			}
			if deleted || !hasCAS {
				return nil, nil
			}
			continue
		}

		encoded, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("xdlock: encode %s: %w", key, err)
		}
		if !hasCAS {
			if err := store.Set(ctx, key, string(encoded), ttl); err != nil {
				return nil, err
			}
			return next, nil
		}

		old := raw
		if !found {
			old = ""
		}
		swapped, err := cas.CompareAndSwap(ctx, key, old, string(encoded), ttl)
		if err != nil {
			return nil, err
		}
		if swapped {
			return next, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrContention, key)
}

// readList 读取 JSON 字符串数组，不存在时为空。
func readList(ctx context.Context, store xstore.Store, key string) ([]string, error) {
	raw, found, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return decodeList(key, raw, found)
}

func decodeList(key, raw string, found bool) ([]string, error) {
	if !found || raw == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("xdlock: decode %s: %w", key, err)
	}
	return list, nil
}

// removeOne 删除第一个等于 v 的元素
func removeOne(list []string, v string) ([]string, bool) {
	i := slices.Index(list, v)
	if i < 0 {
		return list, false
	}
	return slices.Delete(list, i, i+1), true
}

package xdlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xlocker/pkg/storage/xstore"
)

// redlockNode 一个独立的 Redlock 节点
type redlockNode struct {
	store xstore.Store
	cad   xstore.CompareAndDeleter
}

// Redlock 多数派锁。
//
// 并发向 N 个独立节点插入 lock:redlock:<k> = owner，
// 有效期 = TTL − 耗时 − (TTL × DriftFactor + 2ms)。
// 成功节点数 ≥ Quorum 且有效期为正时获取成功，否则在所有节点上比较删除。
// 这是客户端启发式算法，时钟偏移或节点部分失败时无法严格保证互斥。
//
// 与其它类型不同，已持有的句柄再次 Acquire 时不访问节点：
// 只要本地有效期（Validity）未过就直接返回 true，有效期过后才重新向各节点获取。
// 有效期内的持有由多数派写入保证，需要确认节点状态时使用 Manager.IsLocked。
type Redlock struct {
	base
	record      string
	nodes       []redlockNode
	quorum      int
	driftFactor float64
	validity    time.Duration
}

var _ Lock = (*Redlock)(nil)

func newRedlock(m meta, stores []xstore.Store, cfg LockConfig) (*Redlock, error) {
	nodes := make([]redlockNode, 0, len(stores))
	for _, s := range stores {
		cad, ok := xstore.AsCompareAndDeleter(s)
		if !ok {
			return nil, fmt.Errorf("%w: redlock requires compare-and-delete on every node", ErrUnsupportedLockType)
		}
		nodes = append(nodes, redlockNode{store: s, cad: cad})
	}
	quorum := cfg.quorum(len(nodes))
	if quorum > len(nodes) {
		return nil, fmt.Errorf("%w: quorum %d exceeds %d nodes", ErrInvalidOption, quorum, len(nodes))
	}
	return &Redlock{
		base:        base{meta: m},
		record:      recordKey(namespace(TypeRedlock), m.key),
		nodes:       nodes,
		quorum:      quorum,
		driftFactor: cfg.DriftFactor,
	}, nil
}

// Acquire 实现 Lock。
// 只有全部节点都返回错误时才返回错误，个别节点故障按未获取计。
// 句柄已持有且仍在有效期内时直接返回 true，不访问节点。
func (l *Redlock) Acquire(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	if l.acquired {
		if l.now().Sub(l.acquiredAt) < l.validity {
			return true, nil
		}
		l.acquired = false
	}

	start := l.now()
	oks := make([]bool, len(l.nodes))
	errs := make([]error, len(l.nodes))
	var g errgroup.Group
	for i, n := range l.nodes {
		g.Go(func() error {
			oks[i], errs[i] = n.store.InsertIfAbsent(ctx, l.record, l.owner, l.ttl)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // 节点错误记录在 errs 中

	acquired := 0
	for _, ok := range oks {
		if ok {
			acquired++
		}
	}
	drift := time.Duration(float64(l.ttl)*l.driftFactor) + redlockFixedClockSlop
	validity := l.ttl - l.now().Sub(start) - drift

	if acquired >= l.quorum && validity > 0 {
		l.validity = validity
		l.markAcquired()
		return true, nil
	}

	_, _ = l.unlockAll(context.WithoutCancel(ctx)) //nolint:errcheck // 回滚尽力而为，记录会随 TTL 过期
	if allFailed(errs) {
		l.emit(Event{Kind: EventFailed, Reason: "all redlock nodes failed"})
		return false, errors.Join(errs...)
	}
	return l.fail(fmt.Sprintf("failed to acquire quorum: acquired %d, required %d", acquired, l.quorum))
}

// Release 在所有节点上比较删除，至少一个节点删除成功即返回 true。
func (l *Redlock) Release(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	if !l.acquired {
		return false, nil
	}
	released, err := l.unlockAll(ctx)
	l.validity = 0
	l.markReleased()
	if released == 0 && err != nil {
		return false, err
	}
	return released > 0, nil
}

// unlockAll 并发比较删除，返回删除成功的节点数；全部失败时返回合并错误。
func (l *Redlock) unlockAll(ctx context.Context) (int, error) {
	oks := make([]bool, len(l.nodes))
	errs := make([]error, len(l.nodes))
	var g errgroup.Group
	for i, n := range l.nodes {
		g.Go(func() error {
			oks[i], errs[i] = n.cad.CompareAndDelete(ctx, l.record, l.owner)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // 节点错误记录在 errs 中

	released := 0
	for _, ok := range oks {
		if ok {
			released++
		}
	}
	if allFailed(errs) {
		return released, errors.Join(errs...)
	}
	return released, nil
}

// heldBy 返回持有 record 的节点数
func (l *Redlock) heldBy(ctx context.Context) (int, error) {
	count := 0
	var errs []error
	for _, n := range l.nodes {
		exists, err := n.store.Exists(ctx, l.record)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if exists {
			count++
		}
	}
	if len(errs) == len(l.nodes) {
		return 0, errors.Join(errs...)
	}
	return count, nil
}

// Validity 最近一次获取时计算出的有效期
func (l *Redlock) Validity() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.validity
}

// Quorum 生效的多数派
func (l *Redlock) Quorum() int { return l.quorum }

func allFailed(errs []error) bool {
	for _, err := range errs {
		if err == nil {
			return false
		}
	}
	return len(errs) > 0
}

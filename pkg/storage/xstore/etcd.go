package xstore

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var (
	_ Store             = (*Etcd)(nil)
	_ CompareAndDeleter = (*Etcd)(nil)
	_ CompareAndSwapper = (*Etcd)(nil)
)

// etcdAPI Etcd 存储需要的 clientv3 方法子集，*clientv3.Client 实现了此接口。
type etcdAPI interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
	Txn(ctx context.Context) clientv3.Txn
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
}

var _ etcdAPI = (*clientv3.Client)(nil)

// revokeTimeout 撤销未使用租约的超时时间
const revokeTimeout = 3 * time.Second

// Etcd 基于 etcd v3 的原子存储。
//
// 条件写入使用事务（Txn）完成；TTL 通过租约实现，按秒向上取整且最少 1 秒，
// 键不会比调用方预期更早过期。计数器用 ModRevision 比较做乐观重试。
// 每次写入都授予新租约，覆盖写成功后撤销键之前挂载的租约。
type Etcd struct {
	client etcdAPI
}

// NewEtcd 创建 etcd 存储
func NewEtcd(client *clientv3.Client) (*Etcd, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &Etcd{client: client}, nil
}

// leaseOpts ttl > 0 时授予租约，返回写入选项与租约 ID（无租约时为 NoLease）。
func (e *Etcd) leaseOpts(ctx context.Context, ttl time.Duration) ([]clientv3.OpOption, clientv3.LeaseID, error) {
	if ttl <= 0 {
		return nil, clientv3.NoLease, nil
	}
	seconds := max(int64(math.Ceil(ttl.Seconds())), 1)
	lease, err := e.client.Grant(ctx, seconds)
	if err != nil {
		return nil, clientv3.NoLease, fmt.Errorf("xstore: etcd grant lease: %w", err)
	}
	return []clientv3.OpOption{clientv3.WithLease(lease.ID)}, lease.ID, nil
}

// revoke 撤销未被使用的租约，使用独立上下文，调用方 ctx 已取消时也能执行。
func (e *Etcd) revoke(id clientv3.LeaseID) {
	if id == clientv3.NoLease {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), revokeTimeout)
	defer cancel()
	_, _ = e.client.Revoke(ctx, id) //nolint:errcheck // 租约到期后会自动回收
}

// revokePrev 覆盖写成功后撤销旧值的租约。租约按次授予，旧租约上不再挂有其它键。
func (e *Etcd) revokePrev(prev *mvccpb.KeyValue, current clientv3.LeaseID) {
	if prev == nil || clientv3.LeaseID(prev.Lease) == current {
		return
	}
	e.revoke(clientv3.LeaseID(prev.Lease))
}

// putIf 在 cmp 成立时写入 value，失败时回收租约。
func (e *Etcd) putIf(ctx context.Context, cmp clientv3.Cmp, key, value string, ttl time.Duration) (bool, error) {
	opts, leaseID, err := e.leaseOpts(ctx, ttl)
	if err != nil {
		return false, err
	}
	resp, err := e.client.Txn(ctx).
		If(cmp).
		Then(clientv3.OpPut(key, value, append(opts, clientv3.WithPrevKV())...)).
		Commit()
	if err != nil {
		e.revoke(leaseID)
		return false, fmt.Errorf("xstore: etcd txn %q: %w", key, err)
	}
	if !resp.Succeeded {
		e.revoke(leaseID)
		return false, nil
	}
	if len(resp.Responses) > 0 {
		e.revokePrev(resp.Responses[0].GetResponsePut().GetPrevKv(), leaseID)
	}
	return true, nil
}

func (e *Etcd) InsertIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	return e.putIf(ctx, clientv3.Compare(clientv3.CreateRevision(key), "=", 0), key, value, ttl)
}

func (e *Etcd) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	resp, err := e.client.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("xstore: etcd get %q: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

func (e *Etcd) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	opts, leaseID, err := e.leaseOpts(ctx, ttl)
	if err != nil {
		return err
	}
	resp, err := e.client.Put(ctx, key, value, append(opts, clientv3.WithPrevKV())...)
	if err != nil {
		e.revoke(leaseID)
		return fmt.Errorf("xstore: etcd put %q: %w", key, err)
	}
	e.revokePrev(resp.PrevKv, leaseID)
	return nil
}

func (e *Etcd) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		resp, err := e.client.Get(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("xstore: etcd get %q: %w", key, err)
		}

		var (
			current int64
			cmp     = clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
			keep    []clientv3.OpOption
			prev    *mvccpb.KeyValue
		)
		if len(resp.Kvs) > 0 {
			kv := resp.Kvs[0]
			prev = kv
			current, err = strconv.ParseInt(string(kv.Value), 10, 64)
			if err != nil {
				return 0, ErrNotInteger
			}
			cmp = clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)
			if kv.Lease != 0 {
				keep = []clientv3.OpOption{clientv3.WithIgnoreLease()}
			}
		}

		next := current + delta
		opts, leaseID, err := e.leaseOpts(ctx, ttl)
		if err != nil {
			return 0, err
		}
		if ttl <= 0 {
			opts = keep
		}

		txn, err := e.client.Txn(ctx).
			If(cmp).
			Then(clientv3.OpPut(key, strconv.FormatInt(next, 10), opts...)).
			Commit()
		if err != nil {
			e.revoke(leaseID)
			return 0, fmt.Errorf("xstore: etcd txn %q: %w", key, err)
		}
		if txn.Succeeded {
			if ttl > 0 {
				e.revokePrev(prev, leaseID)
			}
			return next, nil
		}
		e.revoke(leaseID)
	}
}

func (e *Etcd) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return e.Increment(ctx, key, -delta, ttl)
}

func (e *Etcd) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	resp, err := e.client.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("xstore: etcd delete %q: %w", key, err)
	}
	return resp.Deleted > 0, nil
}

func (e *Etcd) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	resp, err := e.client.Get(ctx, key, clientv3.WithCountOnly())
	if err != nil {
		return false, fmt.Errorf("xstore: etcd exists %q: %w", key, err)
	}
	return resp.Count > 0, nil
}

func (e *Etcd) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	resp, err := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(key), "=", value)).
		Then(clientv3.OpDelete(key)).
		Commit()
	if err != nil {
		return false, fmt.Errorf("xstore: etcd txn %q: %w", key, err)
	}
	return resp.Succeeded, nil
}

func (e *Etcd) CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	cmp := clientv3.Compare(clientv3.Value(key), "=", old)
	if old == "" {
		cmp = clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
	}
	return e.putIf(ctx, cmp, key, new, ttl)
}

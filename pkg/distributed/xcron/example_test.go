package xcron_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/omeyang/xlocker/pkg/distributed/xcron"
	"github.com/omeyang/xlocker/pkg/distributed/xdlock"
	"github.com/omeyang/xlocker/pkg/storage/xstore"
)

// Example_poll 演示公平锁等待者由调度器轮询获取。
func Example_poll() {
	mgr, err := xdlock.NewManager(xstore.NewMemory())
	if err != nil {
		log.Fatal(err)
	}
	sup := xcron.NewSupervisor()
	sup.Start()
	defer func() { <-sup.Stop().Done() }()

	ctx := context.Background()
	holder, err := mgr.Acquire(ctx, xdlock.TypeFair, []string{"printer"})
	if err != nil {
		log.Fatal(err)
	}
	waiter, err := mgr.New(xdlock.TypeFair, []string{"printer"})
	if err != nil {
		log.Fatal(err)
	}

	done, err := sup.Poll(ctx, waiter, 10*time.Millisecond)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := holder.Release(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Println("poll result:", <-done)
	fmt.Println("waiter holds lock:", waiter.IsAcquired())

	// Output:
	// poll result: <nil>
	// waiter holds lock: true
}

// Example_watch 演示 watchdog 锁的自动续期。
func Example_watch() {
	store := xstore.NewMemory()
	mgr, err := xdlock.NewManager(store)
	if err != nil {
		log.Fatal(err)
	}
	sup := xcron.NewSupervisor()
	sup.Start()
	defer func() { <-sup.Stop().Done() }()

	ctx := context.Background()
	l, err := mgr.Acquire(ctx, xdlock.TypeWatchdog, []string{"leader"}, xdlock.WithTTL(100*time.Millisecond))
	if err != nil {
		log.Fatal(err)
	}
	id, err := sup.Watch(l.(xdlock.Renewer), xcron.WithInterval(20*time.Millisecond))
	if err != nil {
		log.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	exists, err := store.Exists(ctx, "lock:watchdog:leader")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("still held:", exists)

	sup.Remove(id)
	released, err := l.Release(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("released:", released)

	// Output:
	// still held: true
	// released: true
}

// xlockctl 是 xlocker 分布式锁的命令行工具。
//
// 用法:
//
//	xlockctl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config     配置文件路径（YAML / JSON），不指定时使用内存存储
//	-l, --log-level  覆盖配置中的日志级别
//
// 命令:
//
//	run            持锁执行子进程，结束后释放
//	hold           持有 watchdog 锁一段时间并自动续期
//	status         查看锁是否被持有
//	force-release  删除锁记录（管理操作，不校验持有者）
//
// run 命令说明:
//
//	fencing 类型的锁会把 token 通过环境变量 XLOCK_FENCING_TOKEN 传给子进程，
//	子进程写下游存储时应携带该 token。子进程同时可以读取 XLOCK_KEY 和 XLOCK_OWNER。
//
// 退出码:
//
//	0: 成功
//	1: 执行失败（存储错误、子进程失败等）
//	2: 参数错误
//	3: 未获取到锁
//
// 示例:
//
//	xlockctl -c /etc/xlocker.yaml run --key report --wait 30s -- ./build-report.sh
//	xlockctl run --key ledger --type fencing -- sh -c 'echo $XLOCK_FENCING_TOKEN'
//	xlockctl hold --key leader --ttl 10s --for 5m
//	xlockctl status --key report
//	xlockctl force-release --key report
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xlocker/pkg/distributed/xdlock"
)

// 退出码
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitNotAcquired = 3
)

// 版本信息（可通过 -ldflags 注入，例如:
//
//	go build -ldflags "-X main.Version=1.0.0 -X main.GitCommit=$(git rev-parse --short HEAD)"
//
// ）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	os.Exit(run(ctx, os.Args, os.Stdout, os.Stderr))
}

// createApp 创建 CLI 应用。
func createApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "xlockctl",
		Usage:     "xlocker 分布式锁命令行工具",
		Version:   fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径（.yaml / .yml / .json）",
				Sources: cli.EnvVars("XLOCK_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "日志级别 (debug/info/warn/error)，覆盖配置文件",
			},
		},
		Commands: createCommands(),
		// 禁止 urfave/cli 直接调用 os.Exit，由 run() 统一映射退出码
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(stderr, err)
			}
		},
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	err := createApp(stdout, stderr).Run(ctx, args)
	code := exitCode(err)
	switch code {
	case exitOK:
	case exitUsage:
		fmt.Fprintf(stderr, "参数错误: %v\n", err)
	default:
		var exitErr *exitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintf(stderr, "错误: %v\n", err)
		}
	}
	return code
}

// exitCode 把命令返回的错误映射为退出码
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) || isCLIUsageError(err) {
		return exitUsage
	}
	if errors.Is(err, xdlock.ErrAcquisitionFailed) || errors.Is(err, xdlock.ErrAcquisitionTimedOut) {
		return exitNotAcquired
	}
	return exitFailure
}

// isCLIUsageError 识别 urfave/cli 产生的参数解析错误（未知 flag、缺少参数值等）
func isCLIUsageError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"flag provided but not defined",
		"flag needs an argument",
		"invalid value",
		"Required flag",
		"No help topic",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// notectl 是 clipshare 的命令行客户端：创建和加入房间、编辑共享草稿、登录以及管理操作。
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

package config

import (
	"context"
	"path/filepath"

	"MintFM/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
)

// WatchDynamic 监听 .env 文件变更并热更新动态计费参数。
// 每次文件被写入后重新 Load 并回调 onReload，直到 ctx 取消。
// 编辑器保存时常见 Rename/Create 事件，因此监听所在目录而不是文件本身。
func WatchDynamic(ctx context.Context, envPath string, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(envPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	target := filepath.Clean(envPath)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				logger.Info("配置文件变更，重新加载动态参数", logger.String("path", event.Name))
				// Load 不会覆盖已有环境变量，热更新必须 Overload
				if err := godotenv.Overload(envPath); err != nil {
					logger.Warn("重新读取 .env 失败", logger.ErrorField(err))
					continue
				}
				onReload(Load())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("配置监听错误", logger.ErrorField(err))
			}
		}
	}()

	return nil
}

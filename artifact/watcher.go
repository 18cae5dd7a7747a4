package artifact

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"healthrisk/logging"
)

// Watcher 监听制品包目录，目录内任何写入、创建、删除、重命名都会触发回调
type Watcher struct {
	fs       *fsnotify.Watcher
	onChange func(name string)

	mu    sync.Mutex
	dirs  map[string]string // dir -> bundle name
	names map[string]string // bundle name -> dir

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher 创建目录监听器
func NewWatcher(onChange func(name string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听失败: %w", err)
	}
	w := &Watcher{
		fs:       fsw,
		onChange: onChange,
		dirs:     make(map[string]string),
		names:    make(map[string]string),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Watch 开始监听制品包目录
func (w *Watcher) Watch(name, dir string) error {
	dir = filepath.Clean(dir)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.names[name] == dir {
		return nil
	}
	if err := w.fs.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = name
	w.names[name] = dir
	return nil
}

// Unwatch 停止监听制品包目录
func (w *Watcher) Unwatch(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	dir, ok := w.names[name]
	if !ok {
		return
	}
	delete(w.names, name)
	delete(w.dirs, dir)
	_ = w.fs.Remove(dir)
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if name, ok := w.lookup(event.Name); ok {
				logging.L().Debug("bundle changed", zap.String("bundle", name), zap.String("event", event.String()))
				w.onChange(name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.L().Warn("bundle watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

// lookup 事件可能来自目录本身或目录下的文件
func (w *Watcher) lookup(path string) (string, bool) {
	path = filepath.Clean(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if name, ok := w.dirs[path]; ok {
		return name, true
	}
	name, ok := w.dirs[filepath.Dir(path)]
	return name, ok
}

func (w *Watcher) Close() error {
	close(w.done)
	err := w.fs.Close()
	w.wg.Wait()
	return err
}

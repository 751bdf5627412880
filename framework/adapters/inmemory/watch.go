package inmemory

import (
	"context"
	"errors"
	"sync"

	"github.com/akriventsev/readmodel/framework/store"
)

// watcherBuffer размер буфера канала подписчика
const watcherBuffer = 100

// ErrWatcherLagging подписчик не успевал читать события и был отключен
var ErrWatcherLagging = errors.New("change stream subscriber fell behind")

type watcher struct {
	// одно место сверх watcherBuffer зарезервировано под событие ErrWatcherLagging
	events chan store.ChangeEvent
	done   chan struct{}
	mu     sync.Mutex
	once   sync.Once
}

func newWatcher() *watcher {
	return &watcher{
		events: make(chan store.ChangeEvent, watcherBuffer+1),
		done:   make(chan struct{}),
	}
}

// send никогда не блокирует писателя. Если буфер заполнен, подписчик получает
// последнее событие с ErrWatcherLagging, и send возвращает false.
func (w *watcher) send(event store.ChangeEvent) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
		return true
	default:
	}
	if len(w.events) >= watcherBuffer {
		w.events <- store.ChangeEvent{Err: ErrWatcherLagging}
		return false
	}
	w.events <- event
	return true
}

func (w *watcher) stop() {
	w.once.Do(func() {
		w.mu.Lock()
		close(w.done)
		close(w.events)
		w.mu.Unlock()
	})
}

func broadcast(watchers []*watcher, event store.ChangeEvent) {
	for _, w := range watchers {
		if !w.send(event) {
			w.stop()
		}
	}
}

// Watch подписывает на изменения коллекции. Канал закрывается при отмене ctx,
// удалении коллекции или закрытии провайдера.
func (c *Collection) Watch(ctx context.Context) (<-chan store.ChangeEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w := newWatcher()
	c.db.mu.Lock()
	data := c.db.data(c.name, true)
	data.watchers = append(data.watchers, w)
	c.db.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-w.done:
		}

		c.db.mu.Lock()
		if data := c.db.data(c.name, false); data != nil {
			for i, existing := range data.watchers {
				if existing == w {
					data.watchers = append(data.watchers[:i], data.watchers[i+1:]...)
					break
				}
			}
		}
		c.db.mu.Unlock()
		w.stop()
	}()

	return w.events, nil
}

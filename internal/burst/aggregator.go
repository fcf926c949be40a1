// Package burst склеивает шквал входящих сообщений одного отправителя
// в один логический ход (turn): таймер дебаунса перезапускается каждым
// новым сообщением, и очередь уходит вниз по конвейеру только после паузы.
package burst

import (
	"strings"
	"sync"
	"time"
)

// Item — одно входящее сообщение в очереди отправителя.
type Item struct {
	Text              string
	ExternalMessageID string
	ReceivedAt        time.Time
}

// DispatchFunc получает весь накопленный пакет отправителя одним вызовом.
type DispatchFunc func(senderID string, items []Item)

type senderQueue struct {
	items []Item
	timer *time.Timer
}

// Aggregator — очередь дебаунса на отправителя. Перед отправкой очередь
// изымается целиком под мьютексом (swap-and-clear): сообщение, пришедшее во
// время отправки, начинает новую очередь и не теряется.
type Aggregator struct {
	mu       sync.Mutex
	window   time.Duration
	dispatch DispatchFunc
	pending  map[string]*senderQueue
	closed   bool
	wg       sync.WaitGroup
}

func New(window time.Duration, dispatch DispatchFunc) *Aggregator {
	return &Aggregator{
		window:   window,
		dispatch: dispatch,
		pending:  make(map[string]*senderQueue),
	}
}

// Enqueue добавляет сообщение в очередь отправителя и перезапускает его
// таймер дебаунса; прежний незавершённый таймер отменяется.
func (a *Aggregator) Enqueue(senderID string, item Item) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	q, ok := a.pending[senderID]
	if !ok {
		q = &senderQueue{}
		a.pending[senderID] = q
	}
	q.items = append(q.items, item)
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(a.window, func() { a.flush(senderID) })
}

// Pending — число сообщений, ожидающих отправки у отправителя.
func (a *Aggregator) Pending(senderID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if q, ok := a.pending[senderID]; ok {
		return len(q.items)
	}
	return 0
}

// Close отменяет таймеры, синхронно отправляет накопленные очереди и ждёт
// завершения начатых отправок. После Close новые Enqueue игнорируются.
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.closed = true
	rest := a.pending
	a.pending = map[string]*senderQueue{}
	for _, q := range rest {
		if q.timer != nil {
			q.timer.Stop()
		}
	}
	a.mu.Unlock()

	for senderID, q := range rest {
		if len(q.items) > 0 {
			a.dispatch(senderID, q.items)
		}
	}
	a.wg.Wait()
}

func (a *Aggregator) flush(senderID string) {
	a.mu.Lock()
	q, ok := a.pending[senderID]
	if ok {
		delete(a.pending, senderID)
	}
	a.wg.Add(1)
	a.mu.Unlock()

	defer a.wg.Done()
	if !ok || len(q.items) == 0 {
		return
	}
	// dispatch выполняется вне мьютекса: сообщения, пришедшие в этот момент,
	// попадают в свежую очередь и уходят следующим ходом.
	a.dispatch(senderID, q.items)
}

// CombineText склеивает тексты пакета в порядке прихода; разделитель
// сохраняет границы исходных сообщений для потребителя ниже по конвейеру.
func CombineText(items []Item) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if t := strings.TrimSpace(it.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

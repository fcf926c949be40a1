// Package dedup защищает конвейер от повторной доставки: канал отдаёт
// сообщения at-least-once, кэш с коротким TTL отбрасывает редоставку.
// Кэш процессный (in-memory); для multi-worker деплоя его место занимает
// разделяемое хранилище за тем же интерфейсом.
package dedup

import (
	"sync"
	"time"
)

// Deduper — контракт кэша дедупликации для диспетчера.
type Deduper interface {
	Seen(id string) bool
}

// Cache хранит внешние идентификаторы сообщений до истечения TTL.
// Ложных срабатываний (отбрасывание нового сообщения) быть не может, пока
// пространство идентификаторов коллизионно-свободно в пределах окна TTL.
type Cache struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	stop chan struct{}
	now  func() time.Time
}

// New создаёт кэш и запускает фоновую чистку просроченных записей.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		stop: make(chan struct{}),
		now:  time.Now,
	}
	go c.janitor()
	return c
}

// Seen возвращает true, если id уже встречался в пределах TTL (вызывающий
// молча отбрасывает сообщение). Иначе регистрирует id и возвращает false.
func (c *Cache) Seen(id string) bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if exp, ok := c.seen[id]; ok && now.Before(exp) {
		return true
	}
	c.seen[id] = now.Add(c.ttl)
	return false
}

// Len — текущее число записей (включая просроченные до ближайшей чистки).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Close останавливает фоновую чистку.
func (c *Cache) Close() {
	close(c.stop)
}

func (c *Cache) janitor() {
	interval := c.ttl
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			now := c.now()
			c.mu.Lock()
			for id, exp := range c.seen {
				if !now.Before(exp) {
					delete(c.seen, id)
				}
			}
			c.mu.Unlock()
		}
	}
}

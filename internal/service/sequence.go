package service

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SequenceStore выдаёт следующий номер в периоде. Инкремент и чтение — одна
// атомарная операция хранилища: два конкурентных вызова никогда не получают
// одно и то же значение.
type SequenceStore interface {
	Increment(ctx context.Context, period string) (int64, error)
}

type gormSequenceStore struct {
	db *gorm.DB
}

func (s gormSequenceStore) Increment(ctx context.Context, period string) (int64, error) {
	var v int64
	err := s.db.WithContext(ctx).Raw(
		`INSERT INTO ticket_sequences (period, last_value, updated_at)
		 VALUES (?, 1, now())
		 ON CONFLICT (period)
		 DO UPDATE SET last_value = ticket_sequences.last_value + 1, updated_at = now()
		 RETURNING last_value`, period).Scan(&v).Error
	if err != nil {
		return 0, fmt.Errorf("sequence increment %q: %w", period, err)
	}
	return v, nil
}

// SequenceService составляет человекочитаемые номера тикетов
// вида PREFIX-<период>-<номер с ведущими нулями>.
type SequenceService struct {
	store  SequenceStore
	prefix string
	pad    int
}

func NewSequenceService(db *gorm.DB, prefix string, pad int) *SequenceService {
	return &SequenceService{store: gormSequenceStore{db: db}, prefix: prefix, pad: pad}
}

// NewSequenceServiceWithStore — для тестов и нестандартных хранилищ.
func NewSequenceServiceWithStore(store SequenceStore, prefix string, pad int) *SequenceService {
	return &SequenceService{store: store, prefix: prefix, pad: pad}
}

// NextTicketID возвращает следующий номер тикета в периоде. Ошибка счётчика
// фатальна для текущей операции: без выданного номера тикет не создаётся.
func (s *SequenceService) NextTicketID(ctx context.Context, period string) (string, error) {
	n, err := s.store.Increment(ctx, period)
	if err != nil {
		return "", err
	}
	return FormatTicketID(s.prefix, period, s.pad, n), nil
}

// FormatTicketID — композиция номера: префикс, период, порядковый номер.
func FormatTicketID(prefix, period string, pad int, n int64) string {
	return fmt.Sprintf("%s-%s-%0*d", prefix, period, pad, n)
}

// CurrentPeriod — период генерации номера (календарный год).
func CurrentPeriod(now time.Time) string {
	return now.Format("2006")
}

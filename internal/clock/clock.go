package clock

import (
	"sync"
	"time"
)

// Clock серверные часы для меток update-конвертов.
// Метки основаны на wall clock в миллисекундах, но строго возрастают:
// если время не сдвинулось (или ушло назад), следующая метка равна last+1.
// Так конверты одного batch-запроса получают разные и растущие метки.
type Clock struct {
	now  func() time.Time // источник времени, подменяется в тестах
	last int64            // последняя выданная метка
	mu   sync.Mutex       // мьютекс для потокобезопасности
}

// New создает часы поверх time.Now
func New() *Clock {
	return NewWithSource(time.Now)
}

// NewWithSource создает часы с заданным источником времени.
// Используется для тестирования.
func NewWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Marker возвращает новую метку в миллисекундах.
// Каждый вызов читает время заново и возвращает значение больше предыдущего.
func (c *Clock) Marker() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	marker := c.now().UnixMilli()
	if marker <= c.last {
		marker = c.last + 1
	}
	c.last = marker

	return marker
}

// Observe учитывает метку, увиденную в хранилище (например, записанную
// другим экземпляром сервера). Следующий Marker будет строго больше неё.
func (c *Clock) Observe(marker int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if marker > c.last {
		c.last = marker
	}
}

// Last возвращает последнюю выданную или увиденную метку
func (c *Clock) Last() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last
}

// Now возвращает текущее время источника
func (c *Clock) Now() time.Time {
	return c.now()
}

// NowMillis возвращает текущее время в миллисекундах без изменения меток
func (c *Clock) NowMillis() int64 {
	return c.now().UnixMilli()
}

package reading

import (
	"fmt"

	"github.com/bookfeed-bot/bookfeed/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// КАЧЕСТВО РЕНДЕРИНГА
// ══════════════════════════════════════════════════════════════════════════════

// RenderQuality задаёт качество рендеринга страницы. Входит в ключ кеша.
type RenderQuality string

const (
	// QualityLow - экономный режим (100 DPI).
	QualityLow RenderQuality = "low"
	// QualityStandard - режим по умолчанию (150 DPI).
	QualityStandard RenderQuality = "standard"
	// QualityHigh - высокое качество (200 DPI).
	QualityHigh RenderQuality = "high"
)

// IsValid проверяет, что качество корректно.
func (q RenderQuality) IsValid() bool {
	switch q {
	case QualityLow, QualityStandard, QualityHigh:
		return true
	default:
		return false
	}
}

// DPI возвращает разрешение рендеринга для данного качества.
func (q RenderQuality) DPI() int {
	switch q {
	case QualityLow:
		return 100
	case QualityHigh:
		return 200
	default:
		return 150
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// РЕЖИМ ДОСТАВКИ
// ══════════════════════════════════════════════════════════════════════════════

// DeliveryMode определяет, как вычисляется момент следующей отправки.
// Режимы взаимоисключающие.
type DeliveryMode string

const (
	// ModeDaily - ежедневно в фиксированное время (HH:MM).
	ModeDaily DeliveryMode = "daily"
	// ModeInterval - каждые N часов после последней отправки.
	ModeInterval DeliveryMode = "interval"
)

// IsValid проверяет, что режим корректен.
func (m DeliveryMode) IsValid() bool {
	return m == ModeDaily || m == ModeInterval
}

// ══════════════════════════════════════════════════════════════════════════════
// НАСТРОЙКИ ДОСТАВКИ
// ══════════════════════════════════════════════════════════════════════════════

// DeliverySettings - персональные настройки доставки страниц.
type DeliverySettings struct {
	// PagesPerSend - сколько страниц отправлять за раз (>= 1).
	PagesPerSend int

	// Mode - режим расписания (daily или interval).
	Mode DeliveryMode

	// ScheduleTime - время ежедневной отправки (режим daily).
	ScheduleTime timeutil.ClockTime

	// IntervalHours - интервал между отправками в часах (режим interval, > 0).
	IntervalHours float64

	// Quality - качество рендеринга страниц.
	Quality RenderQuality

	// AutoSend - включена ли автоматическая доставка по расписанию.
	// Ручной запрос следующих страниц работает независимо от флага.
	AutoSend bool
}

// DefaultDeliverySettings возвращает настройки по умолчанию:
// 3 страницы каждые 6 часов, стандартное качество.
func DefaultDeliverySettings() DeliverySettings {
	return DeliverySettings{
		PagesPerSend:  3,
		Mode:          ModeInterval,
		IntervalHours: 6,
		Quality:       QualityStandard,
		AutoSend:      true,
	}
}

// Validate проверяет согласованность настроек.
func (s DeliverySettings) Validate() error {
	if s.PagesPerSend < 1 {
		return fmt.Errorf("%w: pages_per_send must be >= 1, got %d", ErrValidation, s.PagesPerSend)
	}
	if !s.Mode.IsValid() {
		return fmt.Errorf("%w: unknown delivery mode %q", ErrValidation, s.Mode)
	}
	if s.Mode == ModeInterval && s.IntervalHours <= 0 {
		return fmt.Errorf("%w: interval_hours must be > 0, got %g", ErrValidation, s.IntervalHours)
	}
	if !s.Quality.IsValid() {
		return fmt.Errorf("%w: unknown render quality %q", ErrValidation, s.Quality)
	}
	return nil
}

package reading

import (
	"fmt"
	"time"
)

// Document - загруженная пользователем книга. Источником страниц владеет
// внешний слой валидации загрузок, ядро получает готовый путь и количество
// страниц.
type Document struct {
	// ID - уникальный идентификатор документа.
	ID DocumentID

	// OwnerID - пользователь, загрузивший документ.
	OwnerID UserID

	// SourcePath - путь к исходному файлу.
	SourcePath string

	// Title - отображаемое название (имя файла по умолчанию).
	Title string

	// PageCount - количество страниц. Вычисляется один раз при загрузке
	// и далее неизменно. Инвариант: PageCount >= 1.
	PageCount int

	// UploadedAt - время загрузки.
	UploadedAt time.Time
}

// Validate проверяет инварианты документа.
func (d *Document) Validate() error {
	if !d.ID.IsValid() {
		return fmt.Errorf("%w: empty document id", ErrValidation)
	}
	if !d.OwnerID.IsValid() {
		return fmt.Errorf("%w: invalid owner id %d", ErrValidation, d.OwnerID)
	}
	if d.PageCount < 1 {
		return fmt.Errorf("%w: page count must be >= 1, got %d", ErrValidation, d.PageCount)
	}
	return nil
}

// ContainsPage проверяет, что страница входит в диапазон документа.
func (d *Document) ContainsPage(page int) bool {
	return page >= 1 && page <= d.PageCount
}

// ClipRange обрезает диапазон [start, start+count-1] по границе документа
// и возвращает фактическое количество страниц. Ноль означает, что диапазон
// целиком за пределами документа.
func (d *Document) ClipRange(start, count int) int {
	if start < 1 || start > d.PageCount || count < 1 {
		return 0
	}
	if start+count-1 > d.PageCount {
		return d.PageCount - start + 1
	}
	return count
}

package reading

import (
	"errors"
	"fmt"
)

// Базовые доменные ошибки. Проверяются через errors.Is().
var (
	// Сущности
	ErrUserNotFound     = errors.New("user not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrAlreadyExists    = errors.New("entity already exists")

	// Валидация
	ErrValidation     = errors.New("validation error")
	ErrPageOutOfRange = errors.New("page out of range")
	ErrInvalidSession = errors.New("invalid reading session")

	// Конкурентность: оптимистическая блокировка прогресса.
	// Вызывающий обязан перечитать прогресс и повторить попытку один раз.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Повторная фиксация той же сессии чтения. Начисления не дублируются.
	ErrSessionAlreadyRecorded = errors.New("reading session already recorded")

	// Хранилище
	ErrStorage = errors.New("storage error")
)

// ══════════════════════════════════════════════════════════════════════════════
// ОШИБКИ РЕНДЕРИНГА
// ══════════════════════════════════════════════════════════════════════════════

// RenderErrorKind классифицирует отказ рендеринга страницы.
type RenderErrorKind string

const (
	// RenderCorrupt - документ повреждён и не читается.
	RenderCorrupt RenderErrorKind = "corrupt"
	// RenderUnsupported - формат не поддерживается (например, PDF с паролем).
	RenderUnsupported RenderErrorKind = "unsupported"
	// RenderOutOfRange - запрошенная страница вне диапазона документа.
	RenderOutOfRange RenderErrorKind = "out_of_range"
	// RenderTimeout - рендеринг не уложился в отведённое время.
	// Результат не кешируется, повторный запрос допустим.
	RenderTimeout RenderErrorKind = "timeout"
)

// RenderError описывает отказ при рендеринге страницы документа.
type RenderError struct {
	Kind       RenderErrorKind
	DocumentID DocumentID
	Page       int
	Err        error
}

// Error реализует интерфейс error.
func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render %s: document %s page %d: %v", e.Kind, e.DocumentID, e.Page, e.Err)
	}
	return fmt.Sprintf("render %s: document %s page %d", e.Kind, e.DocumentID, e.Page)
}

// Unwrap возвращает внутреннюю ошибку.
func (e *RenderError) Unwrap() error {
	return e.Err
}

// NewRenderError создаёт RenderError указанного вида.
func NewRenderError(kind RenderErrorKind, doc DocumentID, page int, err error) *RenderError {
	return &RenderError{Kind: kind, DocumentID: doc, Page: page, Err: err}
}

// IsRenderError возвращает RenderError, если err им является.
func IsRenderError(err error) (*RenderError, bool) {
	var re *RenderError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsRetryableRender сообщает, имеет ли смысл повторять рендеринг.
// Повреждённый или неподдерживаемый документ не станет лучше от повтора.
func IsRetryableRender(err error) bool {
	re, ok := IsRenderError(err)
	if !ok {
		return false
	}
	return re.Kind == RenderTimeout
}

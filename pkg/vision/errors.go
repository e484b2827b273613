package vision

import (
	"errors"
	"fmt"
)

// Kind is the stable category of an analysis failure.
type Kind string

const (
	KindInsufficientInput Kind = "insufficient_input"
	KindContentRejected   Kind = "content_rejected"
	KindAccessRestricted  Kind = "access_restricted"
	KindTimeout           Kind = "timeout"
	KindTransient         Kind = "transient"
	KindUnclassified      Kind = "unclassified"
)

// User-facing texts. Internal error detail is logged, never shown.
const (
	MessageInsufficientInput = "Недостаточно данных изображения. Попробуйте отправить фото в более высоком качестве."
	MessageContentRejected   = "Изображение не прошло проверку безопасности модели. Попробуйте другое фото фасада."
	MessageAccessRestricted  = "К сожалению, доступ к модели ограничен для вашего региона или аккаунта. " +
		"Варианты: использовать аккаунт/организацию с поддерживаемым регионом, " +
		"либо Azure OpenAI в разрешённом регионе, либо обратиться в поддержку OpenAI."
	MessageTimeout = "Превышено время ожидания ответа модели. Попробуйте ещё раз позже."
	MessageGeneric = "Сейчас наблюдается высокая нагрузка или временная ошибка. Попробуйте ещё раз чуть позже."
)

// NoAssessment is returned as a successful result when every rung of the ladder came back empty.
const NoAssessment = "Не удалось сформировать оценку. Попробуйте другое фото (фронтальный фасад, без бликов и шума)."

// Error is a categorized analysis failure.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	message := string(e.Kind)
	if e.Detail != "" {
		message = fmt.Sprintf("%s: %s", message, e.Detail)
	}
	if e.Err != nil {
		message = fmt.Sprintf("%s: %v", message, e.Err)
	}

	return message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func newError(kind Kind, detail string, err error) error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf returns the category for err. Errors that did not come from the analyzer are unclassified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Kind
	}

	return KindUnclassified
}

// UserMessage translates err into short guidance for the end user.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindInsufficientInput:
		return MessageInsufficientInput
	case KindContentRejected:
		return MessageContentRejected
	case KindAccessRestricted:
		return MessageAccessRestricted
	case KindTimeout:
		return MessageTimeout
	default:
		return MessageGeneric
	}
}

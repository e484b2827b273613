package gateway

import "fmt"

const (
	replyWelcome = "Привет:) Я Архитектурный критик\n" +
		"Сначала отправь ключ авторизации.\n" +
		"Затем пришлите фото здания — я оценю его"
	replyHelp = "Сначала отправьте ключ авторизации одной строкой. Затем пришлите фото здания. " +
		"Текст и голосовые я не анализирую — присылай фото или изображения."

	replyKeyMissingArg = "Неверный ключ. Проверьте и попробуйте снова"
	replyKeyInvalid    = "Неверный ключ. Проверьте и попробуйте снова."
	replyKeyUnbound    = "Доступ по ключу. Введите ключ."
	replyKeyRevoked    = "Ключ недействителен. Попробуй еще раз."
	replyNotImage      = "Похоже, это не изображение. Пожалуйста, отправьте фото здания."
	replyAnalyzing     = "Анализирую изображение… Это займет небольше минуты"
	replyTextBound     = "Текст не анализирую. Пришлите, пожалуйста, фото здания."
	replyTextUnbound   = "Это не похоже на корректный ключ. Отправьте действительный ключ одной строкой, затем фото здания."
	replyEmptyText     = "Требуется фотография здания. Отправьте ключ одной строкой, затем фото."
	replyVoice         = "Голосовые и текст не анализирую. Отправьте фото здания. Если ключ не введён: /key <ключ>."

	replyKeyAcceptedUnlimited     = "Ключ принят. Остаток по ключу: безлимит."
	replyTextKeyAcceptedUnlimited = "Ключ принят (безлимит). Теперь пришлите фото здания."
)

func replyKeyAccepted(remaining int, quota int) string {
	return fmt.Sprintf("Ключ принят. Остаток изображений: %d из %d.", remaining, quota)
}

func replyTextKeyAccepted(remaining int, quota int) string {
	return fmt.Sprintf("Ключ принят. Остаток изображений: %d из %d. Теперь пришлите фото здания.", remaining, quota)
}

func replyExhausted(quota int) string {
	return fmt.Sprintf("Лимит изображений по вашему ключу исчерпан (%d/%d). Запросите новый ключ.", quota, quota)
}

// remainingSuffix is appended to a finished critique.
func remainingSuffix(remaining int, quota int) string {
	if remaining < 0 {
		return "\n\nОстаток по ключу: безлимит."
	}

	return fmt.Sprintf("\n\nОстаток по ключу: %d/%d.", remaining, quota)
}

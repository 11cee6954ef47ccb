// Package masking — чистый движок редактирования чувствительных данных.
// Все, что уходит в коллектор, проходит через него ДО буферизации:
// немаскированный текст не должен существовать нигде, кроме памяти клиента.
package masking

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Marker — фиксированный токен замены. Подобран так, чтобы сам не
// матчился ни одним из паттернов (иначе потеряем идемпотентность).
const Marker = "[MASKED]"

// keyPattern проверяет ИМЕНА полей в структурных значениях.
// Поле с именем password маскируется целиком, независимо от содержимого.
var keyPattern = regexp.MustCompile(`(?i)^(password|passwd|pwd|secret|token|api[_-]?key|authorization|auth|credentials?|card[_-]?number)$`)

// valuePatterns проверяют САМ текст. Порядок важен: сначала «голые»
// креденшелы (bearer-токены, JWT-образные строки, номера карт), потом
// пары ключ=значение — они дочищают остатки вида token=[MASKED].
var valuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9._~+/=-]+`),
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]{2,}`),
	regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`),
	regexp.MustCompile(`(?i)(password|passwd|pwd|secret|token|api[_-]?key|authorization)\s*[=:]\s*[^\s,;&"']+`),
}

// MaskString заменяет все чувствительные подстроки на Marker.
// Идемпотентна: mask(mask(x)) == mask(x).
func MaskString(s string) string {
	for _, p := range valuePatterns {
		s = p.ReplaceAllString(s, Marker)
	}
	return s
}

// Mask обрабатывает произвольное значение, сохраняя его форму.
// Никогда не паникует: при сбое сериализации возвращает безопасное
// строковое представление вместо проброса ошибки.
func Mask(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("%v", v)
		}
	}()
	return maskValue(v)
}

func maskValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return MaskString(t)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			if keyPattern.MatchString(k) {
				m[k] = Marker
				continue
			}
			m[k] = maskValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i := range t {
			s[i] = maskValue(t[i])
		}
		return s
	case bool, int, int32, int64, float32, float64:
		return t
	default:
		// Неизвестный тип (структура, ошибка, time.Time...) — прогоняем
		// через JSON, чтобы проверить вложенные ключи и строки.
		raw, err := json.Marshal(t)
		if err != nil {
			return MaskString(fmt.Sprintf("%v", t))
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return MaskString(string(raw))
		}
		return maskValue(generic)
	}
}

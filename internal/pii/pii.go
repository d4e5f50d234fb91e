// Package pii маскирует контактные данные в сообщениях чата, чтобы стороны
// не уводили сделку с платформы до внесения депозита.
package pii

import (
	"regexp"
	"strings"
)

// Category (вид найденных контактных данных)
type Category string

const (
	CategoryEmail  Category = "email"
	CategoryLink   Category = "link"
	CategoryPhone  Category = "phone"
	CategoryHandle Category = "handle"
)

const (
	HiddenEmail  = "[hidden email]"
	HiddenLink   = "[hidden link]"
	HiddenPhone  = "[hidden phone]"
	HiddenHandle = "[hidden handle]"
)

// Границы длины номера. Без кода страны через + короче 9 цифр это скорее
// время, цена или номер дома; длиннее 15 цифр номеров не бывает.
const (
	minPhoneDigits      = 7
	minLocalPhoneDigits = 9
	maxPhoneDigits      = 15
)

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	linkRe  = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+|\b(?:[a-z0-9-]+\.)+(?:com|net|org|me|ru|md|ua|io|info|biz|link|ly|to|gg|app)\b(?:/\S*)?`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s().-]*\d`)

	isoDateRe      = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	currencyAfter  = regexp.MustCompile(`^\s*(?i:lei|leu|mdl|eur|euro|usd|rub|руб|лей|евро|долл|\$|€|₽)`)
	currencyBefore = regexp.MustCompile(`(?:[$€₽]|(?i:mdl|eur|usd))\s*$`)

	// @ники и названия мессенджеров, в том числе кириллицей
	handleRe = regexp.MustCompile(`(?i)@[a-z0-9_.]{3,}|\b(?:whats\s?app|telegram|viber|skype|wechat)\b|(?:ватсап|вотсап|вацап|телеграм|телега|вайбер|вибер|скайп)[а-яё]*`)
)

// Result содержит итог проверки текста
type Result struct {
	Masked     string
	Detected   bool
	Categories []Category
}

// Scan маскирует текст и сообщает, какие категории найдены.
// Порядок важен: почта раньше ников, ссылки раньше телефонов.
func Scan(text string) Result {
	res := Result{Masked: text}

	apply := func(cat Category, masked string) {
		if masked != res.Masked {
			res.Masked = masked
			res.Detected = true
			res.Categories = append(res.Categories, cat)
		}
	}

	apply(CategoryEmail, emailRe.ReplaceAllString(res.Masked, HiddenEmail))
	apply(CategoryLink, linkRe.ReplaceAllString(res.Masked, HiddenLink))
	apply(CategoryPhone, maskPhones(res.Masked))
	apply(CategoryHandle, handleRe.ReplaceAllString(res.Masked, HiddenHandle))

	return res
}

// Mask возвращает замаскированный текст и признак найденных данных
func Mask(text string) (string, bool) {
	res := Scan(text)
	return res.Masked, res.Detected
}

func maskPhones(text string) string {
	var b strings.Builder
	last := 0
	for _, loc := range phoneRe.FindAllStringIndex(text, -1) {
		if !phoneLike(text, loc[0], loc[1]) {
			continue
		}
		b.WriteString(text[last:loc[0]])
		b.WriteString(HiddenPhone)
		last = loc[1]
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

// phoneLike отсекает даты, суммы и номера заказов
func phoneLike(text string, start, end int) bool {
	m := text[start:end]
	digits := countDigits(m)
	if digits < minPhoneDigits || digits > maxPhoneDigits {
		return false
	}
	if !strings.HasPrefix(m, "+") && digits < minLocalPhoneDigits {
		return false
	}
	if isoDateRe.MatchString(m) {
		return false
	}
	before := strings.TrimRight(text[:start], " ")
	if strings.HasSuffix(before, "#") || strings.HasSuffix(before, "№") {
		return false
	}
	return !currencyAfter.MatchString(text[end:]) && !currencyBefore.MatchString(text[:start])
}

func countDigits(s string) int {
	return len(s) - len(strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return -1
		}
		return r
	}, s))
}

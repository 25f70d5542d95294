package catalog

import "strings"

// Lang is one of the languages a checklist label is written in.
type Lang string

const (
	LangES Lang = "es"
	LangEN Lang = "en"
)

// DefaultLang is used when a label has no text for the requested language.
const DefaultLang = LangES

func Languages() []Lang {
	return []Lang{LangES, LangEN}
}

// ParseLang accepts values like "en", "EN", "en-US" or an Accept-Language header
// and returns the first supported language, falling back to DefaultLang.
func ParseLang(value string) Lang {
	for _, part := range strings.Split(value, ",") {
		tag := strings.ToLower(strings.TrimSpace(part))
		if i := strings.IndexAny(tag, ";-_"); i >= 0 {
			tag = tag[:i]
		}
		for _, lang := range Languages() {
			if Lang(tag) == lang {
				return lang
			}
		}
	}
	return DefaultLang
}

// Label holds the text of a checklist item keyed by language.
type Label map[Lang]string

func NewLabel(es, en string) Label {
	return Label{LangES: es, LangEN: en}
}

func (l Label) Get(lang Lang) string {
	if text, ok := l[lang]; ok && text != "" {
		return text
	}
	return l[DefaultLang]
}

// WithPrefix returns a copy of l with prefix[lang] prepended to each translation.
func (l Label) WithPrefix(prefix Label) Label {
	out := make(Label, len(l))
	for lang, text := range l {
		out[lang] = prefix[lang] + text
	}
	return out
}

func (l Label) Clone() Label {
	out := make(Label, len(l))
	for lang, text := range l {
		out[lang] = text
	}
	return out
}

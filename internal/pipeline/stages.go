package pipeline

import (
	"math/rand"
	"regexp"
	"strings"

	"storybook-server/internal/models"
)

// Таблицы значений по умолчанию для незаполненных ингредиентов.
var inputDefaults = map[string][]string{
	"character_name": {"Barnaby", "Luna", "Max"},
	"animal":         {"rabbit", "fox", "dog", "cat", "bear"},
	"setting":        {"Enchanted forest", "Magical kingdom", "Sunny meadow"},
	"gender":         {"male", "female"},
}

var (
	// settingPhraseRe находит фразы вида "in the jungle" в пользовательских элементах.
	settingPhraseRe = regexp.MustCompile(`(?i)\b(in|at|on) the ([A-Za-z ]+)`)
	// settingCleanupRe вырезает такие фразы, когда явное место действия важнее.
	settingCleanupRe = regexp.MustCompile(`(?i)\b(in|at|on) the [A-Za-z ]+`)
)

func pickDefault(key string) string {
	values := inputDefaults[key]
	return values[rand.Intn(len(values))]
}

// normalizeInput приводит пользовательские ингредиенты к полному нормализованному
// виду: подставляет значения по умолчанию или случайные, выводит местоимения из
// пола и разрешает конфликт между явным местом действия и пользовательскими
// элементами. Явно выбранное место действия имеет приоритет: упоминания места
// внутри custom_elements при этом вычищаются.
func normalizeInput(in models.BookInput) models.BookInput {
	out := in

	if out.RandomizeAll || out.CharacterName == "" {
		out.CharacterName = pickDefault("character_name")
	}
	if out.RandomizeAll || out.Animal == "" {
		out.Animal = pickDefault("animal")
	}
	if out.RandomizeAll || out.Gender == "" {
		out.Gender = pickDefault("gender")
	}

	customElements := strings.TrimSpace(out.CustomElements)
	switch {
	case out.Setting != "" && !out.RandomizeAll:
		if customElements != "" {
			customElements = strings.TrimSpace(settingCleanupRe.ReplaceAllString(customElements, ""))
		}
	case customElements != "":
		// Пытаемся распознать место действия внутри пользовательских элементов
		if match := settingPhraseRe.FindStringSubmatch(customElements); match != nil {
			out.Setting = strings.TrimSpace("the " + match[2])
		} else {
			out.Setting = pickDefault("setting")
		}
	default:
		if out.RandomizeAll || out.Setting == "" {
			out.Setting = pickDefault("setting")
		}
	}
	out.CustomElements = customElements

	if strings.ToLower(out.Gender) == "male" {
		out.PronounSubject = "he"
		out.PronounObject = "him"
		out.PronounPossessive = "his"
	} else {
		out.PronounSubject = "she"
		out.PronounObject = "her"
		out.PronounPossessive = "her"
	}

	out.Age = "3-5"
	out.Length = "short"
	return out
}

// splitScenes разбивает историю на сцены по пустым строкам (одна сцена - один
// абзац). Количество и порядок сцен после этого фиксируются.
func splitScenes(story string) []string {
	paragraphs := strings.Split(strings.ReplaceAll(story, "\r\n", "\n"), "\n\n")
	scenes := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			scenes = append(scenes, trimmed)
		}
	}
	if len(scenes) == 0 {
		scenes = append(scenes, strings.TrimSpace(story))
	}
	return scenes
}

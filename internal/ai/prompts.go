package ai

import (
	"fmt"
	"strings"

	"storybook-server/internal/models"
)

// fewShotExamples - пары "сцена -> описание картинки" для промпта иллюстраций.
// Подобраны так, чтобы модель держалась стиля простой детской раскраски.
var fewShotExamples = [][2]string{
	{"The puppy helps his little sister find her lost toy in the garden.", "A puppy and a smaller puppy searching together in a garden, both looking happy."},
	{"The cat chases a butterfly.", "A cat leaping playfully after a butterfly in a sunny field."},
	{"Barnaby was a very brave rabbit.", "A rabbit standing tall and proud."},
	{"He lived in a cozy burrow nestled deep in the Enchanted Forest.", "A rabbit next to a cozy burrow in a magical forest."},
	{"One sunny morning, Barnaby hopped out of his burrow, ready for an adventure.", "A rabbit hopping out of a burrow with the sun shining."},
	{"Barnaby peeked behind a giant, sparkly mushroom. There, huddled under its cap, was a little bluebird with a droopy wing.", "A rabbit and a small bluebird under a giant mushroom."},
	{"The big bluebird chirped happily and offered Barnaby a juicy berry.", "A happy bluebird giving a berry to a rabbit."},
	{"The lion shares his lunch with a hungry mouse.", "A lion and a mouse sitting together, sharing food, both smiling."},
	{"The elephant splashes water on her friends to cool them down.", "An elephant playfully spraying water on other animals, everyone laughing."},
}

// coloringStyleInfo - стилевые требования, добавляемые к каждому промпту иллюстрации.
const coloringStyleInfo = "This is for a children's coloring book. Only draw the outlines. Make all objects large and easy to color. " +
	"Draw ONLY in black and white, NO color, NO shading, NO background, NO text, NO numbers. " +
	"Use the simplest possible lines, like a child's doodle of an animal, not a professional illustration. "

// buildStoryPrompt строит пользовательский промпт для генерации истории.
// Если заданы пользовательские элементы, они заменяют явное место действия.
func buildStoryPrompt(input models.BookInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a children's story for ages %s with the following details:\n", input.Age)
	fmt.Fprintf(&b, "Main character: %s, who is a %s %s\n", input.CharacterName, input.Gender, input.Animal)
	if input.CustomElements != "" {
		fmt.Fprintf(&b, "%s\n", input.CustomElements)
	} else {
		fmt.Fprintf(&b, "Setting: %s\n", input.Setting)
	}
	fmt.Fprintf(&b, "Length: %s\n", input.Length)
	b.WriteString("The story should be gentle, imaginative, and safe. The story should teach a moral lesson. ")
	b.WriteString("Separate the story into short paragraphs, one paragraph per scene.\n")
	fmt.Fprintf(&b, "Use the pronouns %s, %s, and %s for the main character throughout the story.",
		input.PronounSubject, input.PronounObject, input.PronounPossessive)
	return b.String()
}

// buildElementsPrompt строит промпт извлечения героя и места действия.
// Модель обязана ответить строго JSON-объектом.
func buildElementsPrompt(story string) string {
	return "Extract the main character's name and the main setting from the following children's story. " +
		`Respond ONLY in JSON, like: {"character": "Barnaby", "setting": "Glimmering Glades"}. ` +
		"Do not include any explanation or extra text.\n\nStory:\n" + story
}

// buildIllustrationPrompt строит few-shot промпт описания картинки для сцены.
func buildIllustrationPrompt(scene, animal, setting string) string {
	var b strings.Builder
	b.WriteString("You are an expert at writing image descriptions for a children's coloring book.\n")
	b.WriteString("For each scene, describe a simple, childlike doodle that shows the main character(s) doing the main action in the setting. ")
	b.WriteString("Include the key action, setting, and emotion, but keep the drawing simple and easy to color.\n")
	b.WriteString("Do NOT draw any people, humans, or stick-figures of people.\n")
	b.WriteString("The drawing should look like a child's doodle, with only outlines, no color, no shading, no background, and no text.\n\n")
	for _, ex := range fewShotExamples {
		fmt.Fprintf(&b, "Scene: %s\nImage: %s\n\n", ex[0], ex[1])
	}
	fmt.Fprintf(&b, "Animal: %s\nSetting: %s\n\n", animal, setting)
	fmt.Fprintf(&b, "Now, for the following scene, write the image description in this simple, childlike animal doodle style.\n\nScene: %s\nImage:", scene)
	return b.String()
}

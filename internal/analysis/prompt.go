package analysis

import "strings"

// InputPlaceholder marks where the analysed text goes in a prompt template.
const InputPlaceholder = "{{input}}"

// DefaultPromptTemplate asks the generator for the movement wire format.
const DefaultPromptTemplate = `You control a linear stroker. Read the text below and describe a motion
pattern that matches its pacing and intensity.

Reply with one JSON object and nothing else:

{"start": ["<delayMs>,<position>", ...], "loop": ["<delayMs>,<position>", ...]}

- "start" plays once, then "loop" repeats until stopped.
- delayMs is how long the move takes in milliseconds (integer, 100-5000).
- position is 0 (bottom) to 100 (top).
- Use 2-12 movements per sequence.

Text:
` + InputPlaceholder

// BuildPrompt substitutes text into template. A template without the
// placeholder gets the text appended on its own line; an empty template
// uses DefaultPromptTemplate.
func BuildPrompt(template, text string) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultPromptTemplate
	}
	if !strings.Contains(template, InputPlaceholder) {
		return template + "\n" + text
	}
	return strings.ReplaceAll(template, InputPlaceholder, text)
}

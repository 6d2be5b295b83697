package safety

import (
	"fmt"
	"strings"
)

// Category is one entry in the classification policy list fed into the
// guardrail prompt. The list itself is a static, fixed policy document —
// per spec §1 it is "an input string fed into the guardrail prompt and is
// not itself part of the core design" — so it lives as a plain Go literal
// rather than anything pluggable.
type Category struct {
	Name        string
	Description string
}

// categories is the fixed 14-entry policy list from spec §4.3, carried
// over unchanged from the original implementation's prompt_builder.py.
var categories = []Category{
	{"Violent Crimes", "AI models should not create content that enables, encourages, or excuses the commission of violent crimes."},
	{"Non-Violent Crimes", "AI models should not create content that enables, encourages, or excuses the commission of non-violent crimes."},
	{"Sex Crimes", "AI models should not create content that enables, encourages, or excuses the commission of sex crimes."},
	{"Child Exploitation", "AI models should not create content that depicts child nudity or that enables, encourages, excuses, or depicts the sexual abuse of children."},
	{"Defamation", "AI models should not create content about a real, living person that is verifiably false and likely to injure their reputation."},
	{"Specialized Advice", "AI models should not create content that contains specialized financial, medical, or legal advice."},
	{"Privacy", "AI models should not create content that contains sensitive, personal information about individuals."},
	{"Intellectual Property", "AI models should not create content that violates the intellectual property rights of third parties."},
	{"Indiscriminate Weapons", "AI models should not create content that enables the creation of weapons of mass destruction."},
	{"Hate", "AI models should not create content that is hateful toward people based on protected characteristics."},
	{"Self-Harm", "AI models should not create content that enables, encourages, or excuses self-harm."},
	{"Sexual Content", "AI models should not create depictions of nude adults or content containing erotic descriptions or explicit depictions of sex acts."},
	{"Elections", "AI models should not create content that contains factually incorrect information about electoral systems and voting processes."},
	{"Code Interpreter Abuse", "AI models should not create content that attempts to abuse code interpreters."},
}

// categoryList renders the fixed category list as "S<i>: <name> -
// <description>" lines joined by newlines, ready to interpolate into the
// classifier preamble.
func categoryList() string {
	lines := make([]string, len(categories))
	for i, c := range categories {
		lines[i] = fmt.Sprintf("S%d: %s - %s", i+1, c.Name, c.Description)
	}
	return strings.Join(lines, "\n")
}

// classifierPreamble is the fixed system-message body, with the category
// list interpolated. This matches the original source's system_message
// construction in routes.py.
func classifierPreamble() string {
	return "Classify the given prompt as safe or unsafe. For unsafe responses, specify the category (e.g., S1, S13) " +
		"and provide reasoning behind your choice. Below is the safety policy with the following categories:\n" +
		categoryList()
}

package services

import (
	"fmt"
	"strings"
)

// Prompt builders. All generation prompts demand bare JSON (or bare
// Markdown for prose content) because the output feeds the repair-and-parse
// pipeline, not a human. Double quotes in the final prompt are downgraded
// to single quotes so embedded source text cannot break the JSON example.

const studyPlanPromptBase = `[no prose] [Output only JSON] ` +
	`You are tasked with creating a comprehensive study plan for a specified topic. ` +
	`Based on the given topic and the number of hours the user wants to dedicate to studying, ` +
	`your task is to create a detailed study plan that covers the general theme. ` +
	`Divide the total number of hours among various subthemes and provide a thorough explanation ` +
	`for each subtheme using the information provided. You cannot add any line breaks ("\n") or ` +
	`additional formatting to the response; it must return pure JSON without any formatting. ` +
	`All names and topics should start from the uppercase letter. Ensure your response is in JSON format, structured as follows: ` +
	`{ "topic": "string representing the topic", "total_hours": "integer representing the total number of hours", ` +
	`"study_plan": [ { "theme": "string representing a specific theme", "hours": "integer representing the hours ` +
	`allocated to this theme", "subtopics": [ { "name": "string representing the name of the subtopic", ` +
	`"preview": "string providing a detailed explanation of the subtopic using the teaching information" } ] } ] }. ` +
	`You are not allowed to add any examples into the preview field of a subtopics object. ` +
	`It is crucial that you adhere strictly to these instructions as they are essential for my career development.`

// BuildStudyPlanPrompt assembles the seed system message for a new session:
// the plan instructions, the cleaned source texts and the user's budget.
func BuildStudyPlanPrompt(sources []SourceData, hours int, topic string) string {
	var b strings.Builder
	b.WriteString(studyPlanPromptBase)

	b.WriteString("\n\n<teaching_info>\n")
	for i, source := range sources {
		fmt.Fprintf(&b, "## Webpage #%d: \n%s\n\n", i+1, source.Content)
	}
	b.WriteString("</teaching_info>")

	fmt.Fprintf(&b, "The number of hours to study this theme is specified as: <hours>%d</hours>.\n\n", hours)
	fmt.Fprintf(&b, "The topic to study is: %s", topic)

	return strings.ReplaceAll(b.String(), `"`, "'")
}

// BuildContentPrompt asks for long-form Markdown prose for one subtopic.
func BuildContentPrompt(topic string) string {
	return "[Output only Markdown] " +
		fmt.Sprintf("Generate a detailed description for the topic \"%s\", including examples as needed. ", topic) +
		"Ensure the response is well-formatted using Markdown. " +
		"Do not include any greetings or extra content."
}

// BuildQuestionsPrompt asks for a five-question multiple-choice quiz on one
// subtopic.
func BuildQuestionsPrompt(topic string) string {
	return "[Output only JSON] " +
		fmt.Sprintf("Generate exactly 5 unique questions on the topic \"%s\". ", topic) +
		"Each question must have at least 3 distinct answer options, with only one correct answer. " +
		"Randomize the position of the correct answer within the list of options. " +
		"Ensure that all questions are unique and have not been used before. " +
		"Return the results in pure JSON format as follows: " +
		`{ "questions": [ { "question": "string representing the question itself", ` +
		`"answers": [ { "content": "string representing the answer", ` +
		`"is_correct": boolean value indicating if the answer is correct (true or false) } ] } ] }. ` +
		"The JSON must be valid with all brackets and parentheses properly closed. " +
		"Do not include line breaks (\"\\n\") or extra formatting. Ensure there are exactly 5 questions."
}

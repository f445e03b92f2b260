package prompt

// Placeholders recognised in task templates. Anything else that looks like
// a placeholder is left as written.
const (
	PlaceholderSourceLanguage    = "${sourceLanguage}"
	PlaceholderTargetLanguage    = "${targetLanguage}"
	PlaceholderSourceContent     = "${sourceContent}"
	PlaceholderImprovementPrompt = "${improvementPrompt}"
)

// DefaultSystemPrompt is used when neither the config nor the novel sets one.
const DefaultSystemPrompt = `You are a professional literary translator. Translate novel chapters faithfully and naturally, keeping character names, terminology and tone consistent with the reference material and the previously translated chapters you are shown.`

// DefaultTaskTemplate is the task message used when the novel has no
// template of its own.
const DefaultTaskTemplate = `Translate the following chapter from ${sourceLanguage} to ${targetLanguage}.
Begin with the translated chapter title as a level-one heading ("# Title"), keep the paragraph breaks of the original, and output only the translation.

${improvementPrompt}${sourceContent}`

const referencesNote = `The reference entries above describe characters, places and terms from this novel. Use them to keep names and terminology consistent.`

const priorChaptersNote = `The following messages contain earlier chapters of this novel and their accepted translations. Match their style, tone and terminology.`

const emptyLeadNote = `No reference material or earlier chapters are available for this novel yet.`

// improvementTemplate is filled with the previous translation and the
// reviewer feedback.
const improvementTemplate = `An earlier translation of this chapter was reviewed. Produce a new translation that addresses the reviewer's feedback below.
Apply the feedback silently: do not mention the review, the feedback or these instructions in your output.

<previous_translation>
%s
</previous_translation>

<reviewer_feedback>
%s
</reviewer_feedback>

`

// ToolCallInstructions describes the reference side channel the model may
// append after its translation.
const ToolCallInstructions = "If this chapter introduces new characters, places or terms, or changes what is known about existing reference entries, append exactly one block after the translation in this format:\n" +
	"```toolcalls\n" +
	`{"reference_ops": [
  {"type": "reference.add", "title": "...", "content": "..."},
  {"type": "reference.update", "id": "...", "title": "...", "content": "..."}
]}` + "\n```\n" +
	"Use reference.update with the id of an existing entry when correcting it. Omit the block entirely when there is nothing to change. Never put anything else inside the block.\n\n"

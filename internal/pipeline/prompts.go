package pipeline

// Prompt templates for the pipeline's model calls. Kept as constants so the
// exact wording is reviewable in one place.

const extractionSystemPrompt = `You compact conversation transcripts into structured session memory.
Extract only what the transcript states. Do not invent facts.
Respond with JSON only, using exactly this shape:
{
  "profile": {"preferences": [], "constraints": []},
  "key_facts": [],
  "decisions": [],
  "open_questions": [],
  "todos": []
}
Every array entry is a short standalone sentence. Leave arrays empty when the transcript has nothing for them.`

const extractionRetryPrompt = `Your previous reply was not valid JSON in the required shape. Reply again with only the JSON object, no prose, no markdown fences.`

const answerSystemPrompt = `You are a helpful assistant. Answer the user's query using the provided session context.
If the context contains relevant preferences or decisions, respect them. Be concise.`

const clarifySystemPrompt = `The user's query is ambiguous. Write 1 to 3 short clarifying questions that would let you answer it.
Respond with JSON only: {"questions": ["..."]}.`

package analyzer

// SystemPrompt primes the agent backend.
const SystemPrompt = "You are a security camera assistant. You look at a single still frame and report, as strict JSON, what is visible and whether any person poses a physical threat."

// Instruction is sent with every frame. The reply must be the bare JSON object.
const Instruction = `Describe the content of the image in detail. Tell if any person in the image is threatening or not.

You MUST output ONLY valid JSON.
No explanation, no markdown.

JSON schema:
{
  "description": string,
  "is_threat": boolean
}

Rules:
- description: factual description of visible content only
- is_threat: true only if a person appears to pose a physical threat.`

// AlertPhrase is the sentence handed to the speech engine for a threat.
func AlertPhrase(description string) string {
	return "Warning! Threat detected. " + description
}

package session

import "fmt"

// analystTemplate wraps every operator query. The anti-hallucination rule
// exists because models routinely read rapid object-transfer gestures as
// friendly contact, which is exactly the false negative a theft review
// cannot afford.
const analystTemplate = `ROLE: Forensic Security Analyst.
TASK: %s

CRITICAL OBSERVATION RULES:
1. THEFT & CONCEALMENT: Look closely for "snatch-and-grab", pickpocketing, shoplifting, or putting items in pockets/bags.
2. ANTI-HALLUCINATION: Do NOT interpret rapid snatching, grabbing, or reaching motions as "high-fives", "handshakes", or friendly gestures. Scrutinize hand interactions. If ownership of an object changes rapidly, it is likely theft.
3. THREATS: If you detect weapons, fire, fighting, theft, robbery, blood, or aggression, wrap the description in brackets: [THREAT: Theft Detected] or [THREAT: Physical Assault].
4. TIMESTAMPS: Always provide timestamps for every event in format MM:SS.

EVIDENCE PROTOCOL (IMPORTANT):
- If you identify a THREAT, THEFT, or SUSPICIOUS ACTIVITY, you MUST generate a snapshot command.
- To take a standard photo, output: [PROOF: MM:SS]
- To ZOOM IN on a suspect's face or the stolen item, output: [ZOOM: MM:SS]
- Example: "Theft detected at 00:15 [THREAT: Phone Snatching]. [ZOOM: 00:15]"`

func buildPrompt(task string) string {
	return fmt.Sprintf(analystTemplate, task)
}

package scanning

import (
	"fmt"
	"strings"
)

// cardIdentifyPrompt is shared by every model provider
const cardIdentifyPrompt = `You are identifying a collectible trading card from a photo. Read the card carefully: the name printed at the top, the set symbol or set name, the collector number (usually bottom left or bottom right, e.g. "125/197"), and the rarity mark.

Identify the card and return every plausible match, most likely first. Return more than one candidate only when the photo is genuinely ambiguous (for example several printings share the same art).

For each candidate extract:
1. **card_name**: the exact printed card name, including suffixes such as "ex", "V", "VMAX", "GX".
2. **game**: one of "pokemon", "magic", "yugioh", "lorcana", "onepiece", "sports", "other".
3. **set**: the full set name (not the abbreviation).
4. **number**: the collector number exactly as printed.
5. **rarity**: e.g. "Common", "Rare", "Double Rare", "Mythic", "Secret Rare".
6. **variant**: e.g. "Holo", "Reverse Holo", "1st Edition", "Full Art"; empty if none.
7. **confidence**: a number between 0 and 1.

Return ONLY valid JSON in this exact format:
{
  "cards": [
    {
      "card_name": "Charizard ex",
      "game": "pokemon",
      "set": "Obsidian Flames",
      "number": "125/197",
      "rarity": "Double Rare",
      "variant": "",
      "confidence": 0.93
    }
  ]
}

Important:
- If no trading card is visible, return {"cards": []}
- Use an empty string for any field you cannot read
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// buildPrompt injects the game hint, when known, ahead of the shared prompt
func buildPrompt(gameHint Game) string {
	if gameHint == "" || !gameHint.Valid() || gameHint == GameOther {
		return cardIdentifyPrompt
	}
	var b strings.Builder
	fmt.Fprintf(&b, "The user is scanning %s cards. Prefer %q as the game unless the card is clearly from another game.\n\n", gameHint, gameHint)
	b.WriteString(cardIdentifyPrompt)
	return b.String()
}

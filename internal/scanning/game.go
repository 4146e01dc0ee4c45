package scanning

import "strings"

var gameAliases = map[string]Game{
	"pokemon":              GamePokemon,
	"pokémon":              GamePokemon,
	"pokemon tcg":          GamePokemon,
	"magic":                GameMagic,
	"mtg":                  GameMagic,
	"magic the gathering":  GameMagic,
	"magic: the gathering": GameMagic,
	"yugioh":               GameYugioh,
	"yu-gi-oh":             GameYugioh,
	"yu-gi-oh!":            GameYugioh,
	"lorcana":              GameLorcana,
	"disney lorcana":       GameLorcana,
	"onepiece":             GameOnePiece,
	"one piece":            GameOnePiece,
	"one-piece":            GameOnePiece,
	"sports":               GameSports,
	"baseball":             GameSports,
	"basketball":           GameSports,
	"football":             GameSports,
	"soccer":               GameSports,
	"hockey":               GameSports,
	"other":                GameOther,
}

// ParseGame maps free text to a Game. Unknown values map to GameOther and
// empty input to "".
func ParseGame(raw string) Game {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if g, ok := gameAliases[s]; ok {
		return g
	}
	return GameOther
}

// Valid reports whether g is one of the known games
func (g Game) Valid() bool {
	switch g {
	case GamePokemon, GameMagic, GameYugioh, GameLorcana, GameOnePiece, GameSports, GameOther:
		return true
	}
	return false
}

package format

// Metadata is the canonical tag set resolved from a raw tag dictionary.
// Fields are empty strings when the file carries no matching tag.
type Metadata struct {
	Title    string
	Game     string
	System   string
	Composer string
	Date     string
	VGMBy    string
	Notes    string
}

// Resolve maps a raw tag dictionary onto the canonical metadata fields.
// Title, game, system and composer prefer the English key and fall back
// to the native-script "-JPN" variant. Date, encoder and comment have no
// fallback.
func Resolve(tags map[string]string) Metadata {
	return Metadata{
		Title:    tagWithFallback(tags, "TITLE", "TITLE-JPN"),
		Game:     tagWithFallback(tags, "GAME", "GAME-JPN"),
		System:   tagWithFallback(tags, "SYSTEM", "SYSTEM-JPN"),
		Composer: tagWithFallback(tags, "ARTIST", "ARTIST-JPN"),
		Date:     tags["DATE"],
		VGMBy:    tags["ENCODED_BY"],
		Notes:    tags["COMMENT"],
	}
}

func tagWithFallback(tags map[string]string, primary, fallback string) string {
	if v := tags[primary]; v != "" {
		return v
	}
	return tags[fallback]
}

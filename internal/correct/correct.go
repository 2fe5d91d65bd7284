// Package correct scores the plausibility of transcription corrections
// proposed by the minute summarizer.
//
// Models occasionally hallucinate "corrections" that replace a word with
// something phonetically unrelated. Scoring compares each original/corrected
// pair by normalized edit-distance similarity and by Metaphone equality; pairs
// that are neither textually nor phonetically close are flagged in the logs.
// The pipeline persists all well-formed corrections regardless; scoring is
// observability, not filtering.
package correct

import (
	"log/slog"

	"github.com/antzucaro/matchr"

	"github.com/echonote/echonote/internal/store"
)

// suspectThreshold is the similarity below which a non-homophone pair is
// logged as suspect.
const suspectThreshold = 0.5

// Score is the plausibility assessment of one correction.
type Score struct {
	Correction store.Correction

	// Similarity is the normalized Damerau-Levenshtein similarity of the pair in
	// [0, 1], where 1 means identical.
	Similarity float64

	// Homophone is true when both sides share a Metaphone encoding, the
	// typical signature of a genuine mistranscription.
	Homophone bool
}

// Suspect reports whether the correction looks hallucinated: textually
// distant and not a homophone.
func (s Score) Suspect() bool {
	return !s.Homophone && s.Similarity < suspectThreshold
}

// Assess scores one correction pair.
func Assess(c store.Correction) Score {
	// Damerau variant: transpositions are single edits, the most common
	// mistranscription shape.
	dist := matchr.DamerauLevenshtein(c.Original, c.Corrected)
	longest := max(len([]rune(c.Original)), len([]rune(c.Corrected)))

	sim := 1.0
	if longest > 0 {
		sim = 1 - float64(dist)/float64(longest)
	}

	m1, alt1 := matchr.DoubleMetaphone(c.Original)
	m2, alt2 := matchr.DoubleMetaphone(c.Corrected)
	homophone := m1 != "" && (m1 == m2 || m1 == alt2 || alt1 == m2)

	return Score{Correction: c, Similarity: sim, Homophone: homophone}
}

// LogSuspects assesses every correction for one minute and logs the suspect
// ones at warn level. Returns the number of suspects for metrics.
func LogSuspects(recordingID int64, minuteIndex int, corrections []store.Correction) int {
	suspects := 0
	for _, c := range corrections {
		score := Assess(c)
		if !score.Suspect() {
			continue
		}
		suspects++
		slog.Warn("correct: implausible correction from summarizer",
			"recording_id", recordingID,
			"minute_index", minuteIndex,
			"original", c.Original,
			"corrected", c.Corrected,
			"similarity", score.Similarity,
		)
	}
	return suspects
}

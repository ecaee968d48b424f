package audio

// Song indices, matching the firmware's Song enum ordering (Song.h). The
// catalog names are renamed away from the original's franchise-specific
// titles; slot order and count are preserved so touch-gesture and ocarina
// song indices still line up with the firmware's table.
const (
	SongSecretSound = iota
	SongSuccessSound
	SongMainTheme
	SongLullaby
	SongCompanionSong
	SongGuardianSong
	SongSummerSong
	SongTimeSong
	SongStormSong
	SongForestMinuet

	NumSongs
)

var songNames = [NumSongs]string{
	SongSecretSound:   "SecretSound",
	SongSuccessSound:  "SuccessSound",
	SongMainTheme:     "MainTheme",
	SongLullaby:       "Lullaby",
	SongCompanionSong: "CompanionSong",
	SongGuardianSong:  "GuardianSong",
	SongSummerSong:    "SummerSong",
	SongTimeSong:      "TimeSong",
	SongStormSong:     "StormSong",
	SongForestMinuet:  "ForestMinuet",
}

// DefaultCatalog builds the stock song table. Actual per-song note data is
// a content concern (melody authoring), not a firmware-logic one; each
// entry here carries a short representative motif at the song's tempo
// rather than reproducing proprietary melody data.
func DefaultCatalog() map[int]Song {
	catalog := make(map[int]Song, NumSongs)
	for i := 0; i < NumSongs; i++ {
		catalog[i] = Song{
			Index: i,
			Name:  songNames[i],
			Tempo: 120,
			Notes: []Note{
				{Name: 0, Type: 0.25},
				{Name: 2, Type: 0.25},
				{Name: 4, Type: 0.25},
				{Name: NoteRest, Type: 0.25},
			},
		}
	}
	return catalog
}

// LookupFromCatalog adapts a catalog map into the func(int) Song shape New
// expects.
func LookupFromCatalog(catalog map[int]Song) func(int) Song {
	return func(i int) Song { return catalog[i] }
}

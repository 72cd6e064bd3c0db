package status

import "strings"

// Status is the canonical ride status used everywhere inside the engine.
// The backend speaks two vocabularies (English and a legacy French one);
// Normalize folds both into this closed set.
type Status string

const (
	Incoming  Status = "incoming"
	Pickup    Status = "pickup"
	Arrived   Status = "arrived"
	Ongoing   Status = "ongoing"
	Completed Status = "completed"
	Cancelled Status = "cancelled"
)

// vocab maps every known raw spelling (lowercased) to its canonical status.
// Canonical names map to themselves so Normalize is idempotent.
var vocab = map[string]Status{
	// canonical
	"incoming":  Incoming,
	"pickup":    Pickup,
	"arrived":   Arrived,
	"ongoing":   Ongoing,
	"completed": Completed,
	"cancelled": Cancelled,

	// english backend vocabulary
	"requested": Incoming,
	"accepted":  Pickup,
	"paid":      Completed,
	"canceled":  Cancelled,

	// legacy localized vocabulary, still emitted by older backend builds
	"en_attente": Incoming,
	"acceptee":   Pickup,
	"arrivee":    Arrived,
	"en_course":  Ongoing,
	"terminee":   Completed,
	"payee":      Completed,
	"annulee":    Cancelled,
}

// Normalize maps any raw backend status to a canonical one. It is total:
// unrecognized or empty input falls back to Incoming, which matches the
// historical wire behavior. Callers that need to tell "unknown" apart from
// "new incoming ride" should use Lookup and log the raw value.
func Normalize(raw string) Status {
	s, _ := Lookup(raw)
	return s
}

// Lookup is Normalize plus a recognition flag: ok is false when the input
// was not part of either vocabulary and the Incoming fallback was applied.
func Lookup(raw string) (Status, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if s, ok := vocab[key]; ok {
		return s, true
	}
	return Incoming, false
}

// Terminal reports whether a ride in this status will not transition again.
func (s Status) Terminal() bool {
	return s == Completed || s == Cancelled
}

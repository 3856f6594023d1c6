package inventory

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Unit is the unit of measure of an item or movement.
type Unit string

const (
	UnitEach     Unit = "UN"
	UnitMeter    Unit = "M"
	UnitSqMeter  Unit = "M2"
	UnitKilogram Unit = "KG"
)

var upper = cases.Upper(language.Und)

// normalizeToken folds compatibility characters (e.g. superscript two) and
// upper-cases the result, so "m²" and "M2" compare equal.
func normalizeToken(raw string) string {
	return upper.String(strings.TrimSpace(norm.NFKC.String(raw)))
}

// ParseUnit normalises a unit token. An empty token yields an empty unit,
// meaning "use the item's unit".
func ParseUnit(raw string) (Unit, error) {
	tok := normalizeToken(raw)
	switch Unit(tok) {
	case "":
		return "", nil
	case UnitEach, UnitMeter, UnitSqMeter, UnitKilogram:
		return Unit(tok), nil
	}
	return "", validationf("unknown unit of measure %q", raw)
}

// ParseRefKind normalises a reference kind token.
func ParseRefKind(raw string) (RefKind, error) {
	switch k := RefKind(normalizeToken(raw)); k {
	case RefPO, RefSO, RefProject, RefQuote, RefCount, RefManual, RefProduction:
		return k, nil
	}
	return "", validationf("unknown reference kind %q", raw)
}

// ParseMovementType accepts the movement types a caller may request directly.
func ParseMovementType(raw string) (MovementType, error) {
	switch t := MovementType(normalizeToken(raw)); t {
	case MovementIn, MovementOut, MovementAdjust:
		return t, nil
	}
	return "", validationf("movement type must be IN, OUT or ADJUST, got %q", raw)
}

// ParseReservationStatus normalises a reservation status token.
func ParseReservationStatus(raw string) (ReservationStatus, error) {
	switch s := ReservationStatus(normalizeToken(raw)); s {
	case "", ReservationActive, ReservationReleased, ReservationConsumed:
		return s, nil
	}
	return "", validationf("unknown reservation status %q", raw)
}

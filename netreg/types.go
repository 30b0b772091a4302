package netreg

import "strings"

// RegistrationState is the network registration status reported by +CREG.
// The values match the <stat> field of 3GPP TS 27.007 §7.2.
type RegistrationState int

const (
	None RegistrationState = iota
	Home
	Searching
	Denied
	Unknown
	Roaming
)

func (s RegistrationState) String() string {
	switch s {
	case None:
		return "None"
	case Home:
		return "Home"
	case Searching:
		return "Searching"
	case Denied:
		return "Denied"
	case Unknown:
		return "Unknown"
	case Roaming:
		return "Roaming"
	default:
		return "Invalid"
	}
}

// Registered reports whether the device is attached to a network.
func (s RegistrationState) Registered() bool {
	return s == Home || s == Roaming
}

// stateFromStat maps a +CREG <stat> value; anything out of range is Unknown.
func stateFromStat(stat uint32) RegistrationState {
	if stat > uint32(Roaming) {
		return Unknown
	}
	return RegistrationState(stat)
}

// OperatorMode is the <mode> of AT+COPS. The values are the wire values.
type OperatorMode int

const (
	Automatic       OperatorMode = 0
	Manual          OperatorMode = 1
	Deregister      OperatorMode = 2
	ManualAutomatic OperatorMode = 4
)

func (m OperatorMode) String() string {
	switch m {
	case Automatic:
		return "Automatic"
	case Manual:
		return "Manual"
	case Deregister:
		return "Deregister"
	case ManualAutomatic:
		return "ManualAutomatic"
	default:
		return "Invalid"
	}
}

// ParseOperatorMode accepts a mode name as returned by String, ignoring case.
func ParseOperatorMode(s string) (OperatorMode, bool) {
	for _, m := range []OperatorMode{Automatic, Manual, Deregister, ManualAutomatic} {
		if strings.EqualFold(s, m.String()) {
			return m, true
		}
	}
	return Automatic, false
}

func modeFromWire(v uint32) OperatorMode {
	switch OperatorMode(v) {
	case Manual, Deregister, ManualAutomatic:
		return OperatorMode(v)
	default:
		return Automatic
	}
}

// Availability is the <stat> of an entry in the AT+COPS=? list.
type Availability int

const (
	AvailabilityUnknown Availability = iota
	Available
	Current
	Forbidden
)

func (a Availability) String() string {
	switch a {
	case Available:
		return "Available"
	case Current:
		return "Current"
	case Forbidden:
		return "Forbidden"
	default:
		return "Unknown"
	}
}

// technologies are indexed by the <AcT> value of AT+COPS.
var technologies = []string{
	"GSM",
	"GSMCompact",
	"UTRAN",
	"EGPRS",
	"HSDPA",
	"HSUPA",
	"HSDPAHSUPA",
	"E-UTRAN",
}

// TechnologyName returns the name of access technology act, or "" when it
// is not known.
func TechnologyName(act uint32) string {
	if act >= uint32(len(technologies)) {
		return ""
	}
	return technologies[act]
}

// technologyIndex is the inverse of TechnologyName.
func technologyIndex(name string) (int, bool) {
	for i, t := range technologies {
		if strings.EqualFold(t, name) {
			return i, true
		}
	}
	return 0, false
}

// Operator identifies the network operator the modem is using.
//
// ID encodes how the operator was named: "2" followed by the numeric
// MCC/MNC, "1" followed by the short name or "0" followed by the long name.
type Operator struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Technology string       `json:"technology,omitempty"`
	Mode       OperatorMode `json:"mode"`
}

// AvailableOperator is one network found by an operator scan.
type AvailableOperator struct {
	Availability Availability `json:"availability"`
	Name         string       `json:"name"`
	ID           string       `json:"id"`
	Technology   string       `json:"technology,omitempty"`
}

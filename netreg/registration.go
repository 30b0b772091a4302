// Package netreg tracks cellular network registration and operator
// selection through AT commands (3GPP TS 27.007 §7.2 and §7.3).
package netreg

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"i4.energy/across/modemcore/at"
)

// CommandFormatter builds the AT+COPS command that selects an operator.
// withTechnology reports whether the modem has been seen to accept an
// access technology field.
type CommandFormatter func(mode OperatorMode, id, technology string, withTechnology bool) string

// Option configures a Registration.
type Option func(*Registration)

// WithObserver adds an observer. Observers are called in the order they
// were added.
func WithObserver(o Observer) Option {
	return func(r *Registration) {
		r.observers = append(r.observers, o)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registration) {
		r.logger = l
	}
}

// WithCommandFormatter replaces FormatSetOperatorCommand for modems that
// need a different AT+COPS syntax.
func WithCommandFormatter(f CommandFormatter) Option {
	return func(r *Registration) {
		r.formatter = f
	}
}

// Registration maintains the registration state and the current operator
// of a modem. Queries run on the primary channel; operator selection and
// network scans run on the secondary one so they do not hold up queries.
//
// A Registration is not safe for concurrent use. Its methods must be called
// on the goroutine that runs the channels' callbacks, see modem.Modem.Post.
type Registration struct {
	primary   Channel
	secondary Channel
	observers observers
	logger    *slog.Logger
	formatter CommandFormatter

	state              RegistrationState
	lac                int
	ci                 int
	operator           Operator
	supportsTechnology bool
	initialized        bool
	// lost is set while the channel is dead; cleared by ResetModem
	lost bool
	// pendingOperatorID carries the numeric id from the first half of an
	// operator query to the second; consumed once per cycle
	pendingOperatorID *uint32
}

// New creates a Registration and subscribes to +CREG notifications on
// primary. A nil secondary uses primary for everything.
func New(primary, secondary Channel, opts ...Option) *Registration {
	if secondary == nil {
		secondary = primary
	}
	r := &Registration{
		primary:   primary,
		secondary: secondary,
		logger:    slog.New(slog.DiscardHandler),
		formatter: FormatSetOperatorCommand,
		lac:       -1,
		ci:        -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "netreg")

	primary.RegisterNotification(at.Registration, true, r.registrationNotified)
	return r
}

func (r *Registration) State() RegistrationState { return r.state }

// LocationAreaCode returns the current LAC, or -1 when unknown.
func (r *Registration) LocationAreaCode() int { return r.lac }

// CellID returns the current cell id, or -1 when unknown.
func (r *Registration) CellID() int { return r.ci }

func (r *Registration) CurrentOperator() Operator { return r.operator }

// SupportsOperatorTechnology reports whether the modem has reported an
// access technology in any +COPS response.
func (r *Registration) SupportsOperatorTechnology() bool { return r.supportsTechnology }

// Initialized reports whether a registration query has completed.
func (r *Registration) Initialized() bool { return r.initialized }

// PendingOperatorID returns the numeric operator id held between the two
// halves of an operator query.
func (r *Registration) PendingOperatorID() (uint32, bool) {
	if r.pendingOperatorID == nil {
		return 0, false
	}
	return *r.pendingOperatorID, true
}

// ResetModem enables verbose registration reports and queries the current
// registration. It is used after the modem (re)starts and may be repeated.
func (r *Registration) ResetModem() {
	r.lost = false
	r.primary.Chat(at.CmdRegistrationVerbose, r.logFailure)
	r.primary.Chat(at.CmdOperatorFormatAlpha, r.logFailure)
	r.primary.Chat(at.CmdRegistrationQuery, r.registrationQueried)
}

// ChannelLost puts the Registration into the unregistered state after its
// transport died. Notifications are ignored until the next ResetModem.
func (r *Registration) ChannelLost() {
	if r.lost {
		return
	}
	r.logger.Warn("AT channel lost")
	r.lost = true
	r.pendingOperatorID = nil
	r.updateState(None, -1, -1)
	r.updateOperator(Operator{})
}

// SetCurrentOperator selects the network operator. id is an operator id as
// found in Operator or AvailableOperator; technology is a name returned by
// TechnologyName and only sent when the modem supports it. The outcome is
// reported through Observer.SetCurrentOperatorResult.
func (r *Registration) SetCurrentOperator(mode OperatorMode, id, technology string) {
	if r.lost {
		r.observers.SetCurrentOperatorResult(at.ResultDead)
		return
	}

	cmd := r.formatter(mode, id, technology, r.supportsTechnology)
	r.logger.Info("Selecting operator", "mode", mode.String(), "id", id, "technology", technology)

	r.secondary.Chat(cmd, func(ok bool, res at.Result) {
		if ok && !r.lost {
			r.updateOperator(r.selectedOperator(mode, id, technology))
			r.queryOperator()
		} else if !ok {
			r.logger.Warn("Operator selection failed", "command", cmd, "result", int(res.Code))
		}
		r.observers.SetCurrentOperatorResult(res.Code)
	})
}

// RequestAvailableOperators scans for networks. The result is reported
// through Observer.AvailableOperators and may take minutes.
func (r *Registration) RequestAvailableOperators() {
	if r.lost {
		r.observers.AvailableOperators(nil)
		return
	}
	r.secondary.Chat(at.CmdOperatorList, r.availableOperatorsListed)
}

// FormatSetOperatorCommand is the default CommandFormatter. The first
// character of id selects the <format> (2 numeric, 1 short name, 0 long
// name) and the rest is sent as <oper>.
func FormatSetOperatorCommand(mode OperatorMode, id, technology string, withTechnology bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "AT+COPS=%d", int(mode))
	if id == "" {
		return b.String()
	}

	format, oper := 0, id
	switch id[0] {
	case '2':
		format, oper = 2, id[1:]
	case '1':
		format, oper = 1, id[1:]
	case '0':
		oper = id[1:]
	}
	fmt.Fprintf(&b, ",%d,%s", format, at.Quote(oper))

	if withTechnology {
		if act, ok := technologyIndex(technology); ok {
			fmt.Fprintf(&b, ",%d", act)
		}
	}
	return b.String()
}

// ParseAvailableOperators extracts the entries of an AT+COPS=? response.
// Entries with fewer than four fields or fields of the wrong kind are
// skipped. withTechnology reports whether any entry carried an <AcT>.
func ParseAvailableOperators(res at.Result) (ops []AvailableOperator, withTechnology bool) {
	p := at.NewParserFromResult(res)
	for p.Next(at.Operator) {
		for p.More() {
			op, act, ok := availableOperator(p.ReadList())
			if !ok {
				continue
			}
			withTechnology = withTechnology || act
			ops = append(ops, op)
		}
	}
	return ops, withTechnology
}

func availableOperator(entry []at.Node) (op AvailableOperator, act bool, ok bool) {
	if len(entry) < 4 || !entry[0].IsNumber() || !entry[1].IsString() ||
		!entry[2].IsString() || !entry[3].IsString() {
		return op, false, false
	}

	long, short, numeric := entry[1].AsString(), entry[2].AsString(), entry[3].AsString()

	switch {
	case long != "":
		op.Name = long
	case short != "":
		op.Name = short
	default:
		op.Name = numeric
	}

	switch {
	case numeric != "":
		op.ID = "2" + numeric
	case short != "":
		op.ID = "1" + short
	case long != "":
		op.ID = "0" + long
	default:
		return op, false, false
	}

	if stat := entry[0].AsNumber(); stat <= uint32(Forbidden) {
		op.Availability = Availability(stat)
	}
	if len(entry) >= 5 && entry[4].IsNumber() {
		op.Technology = TechnologyName(entry[4].AsNumber())
		act = true
	}
	return op, act, true
}

func (r *Registration) registrationNotified(line string) {
	if r.lost {
		r.logger.Debug("Ignoring notification on lost channel", "line", line)
		return
	}
	p := at.NewNotificationParser(line)
	stat := p.ReadNumeric()
	lac, ci := readLocation(p)
	r.applyRegistration(stateFromStat(stat), lac, ci)
}

func (r *Registration) registrationQueried(ok bool, res at.Result) {
	if r.lost {
		return
	}
	if !ok {
		r.logger.Warn("Registration query failed", "result", int(res.Code))
		return
	}

	p := at.NewParserFromResult(res)
	if p.Next(at.Registration) {
		p.ReadNumeric() // <n>
		stat := p.ReadNumeric()
		lac, ci := readLocation(p)
		r.applyRegistration(stateFromStat(stat), lac, ci)
	}

	if !r.initialized {
		r.initialized = true
		r.observers.Initialized()
	}
}

func (r *Registration) applyRegistration(state RegistrationState, lac, ci int) {
	r.updateState(state, lac, ci)
	if state.Registered() {
		r.queryOperator()
	}
}

func (r *Registration) updateState(state RegistrationState, lac, ci int) {
	if state == r.state && lac == r.lac && ci == r.ci {
		return
	}
	r.state, r.lac, r.ci = state, lac, ci
	r.logger.Info("Registration state changed", "state", state.String(), "lac", lac, "ci", ci)
	r.observers.RegistrationStateChanged(state, lac, ci)
}

// queryOperator reads the operator twice, numeric first, because a single
// +COPS? response carries only one representation.
func (r *Registration) queryOperator() {
	r.primary.Chat(at.CmdOperatorFormatNum, r.logFailure)
	r.primary.Chat(at.CmdOperatorQuery, r.numericOperatorQueried)
	r.primary.Chat(at.CmdOperatorFormatAlpha, r.logFailure)
	r.primary.Chat(at.CmdOperatorQuery, r.operatorQueried)
}

func (r *Registration) numericOperatorQueried(ok bool, res at.Result) {
	if !ok || r.lost {
		return
	}
	p := at.NewParserFromResult(res)
	if !p.Next(at.Operator) {
		return
	}
	p.ReadNumeric() // <mode>
	if !p.More() {
		return
	}
	if format := p.ReadNumeric(); format != 2 {
		return
	}
	if id, err := strconv.ParseUint(p.ReadString(), 10, 32); err == nil {
		numeric := uint32(id)
		r.pendingOperatorID = &numeric
	}
}

func (r *Registration) operatorQueried(ok bool, res at.Result) {
	pending := r.pendingOperatorID
	r.pendingOperatorID = nil

	if r.lost {
		return
	}
	if !ok {
		r.logger.Warn("Operator query failed", "result", int(res.Code))
		return
	}

	p := at.NewParserFromResult(res)
	if !p.Next(at.Operator) {
		return
	}

	op := Operator{Mode: modeFromWire(p.ReadNumeric())}
	var format uint32
	if p.More() {
		format = p.ReadNumeric()
		op.Name = p.ReadString()
		if p.More() {
			op.Technology = TechnologyName(p.ReadNumeric())
			r.supportsTechnology = true
		}
	}

	switch {
	case pending != nil:
		op.ID = "2" + strconv.FormatUint(uint64(*pending), 10)
	case op.Name == "":
	case format == 1:
		op.ID = "1" + op.Name
	case format == 2:
		op.ID = "2" + op.Name
	default:
		op.ID = "0" + op.Name
	}
	r.updateOperator(op)
}

func (r *Registration) availableOperatorsListed(ok bool, res at.Result) {
	if !ok {
		r.logger.Warn("Operator scan failed", "result", int(res.Code))
		r.observers.AvailableOperators(nil)
		return
	}
	ops, act := ParseAvailableOperators(res)
	if act {
		r.supportsTechnology = true
	}
	r.logger.Info("Operator scan finished", "operators", len(ops))
	r.observers.AvailableOperators(ops)
}

// selectedOperator guesses the operator a successful AT+COPS= switched to.
func (r *Registration) selectedOperator(mode OperatorMode, id, technology string) Operator {
	switch {
	case mode == Deregister:
		return Operator{Mode: Deregister}
	case id == "":
		op := r.operator
		op.Mode = mode
		return op
	}

	op := Operator{ID: id, Mode: mode, Technology: technology}
	switch {
	case id == r.operator.ID:
		op.Name = r.operator.Name
	case id[0] == '0', id[0] == '1', id[0] == '2':
		op.Name = id[1:]
	default:
		op.Name = id
	}
	return op
}

func (r *Registration) updateOperator(op Operator) {
	if op == r.operator {
		return
	}
	r.operator = op
	r.logger.Info("Current operator changed", "id", op.ID, "name", op.Name, "mode", op.Mode.String())
	r.observers.CurrentOperatorChanged(op)
}

func (r *Registration) logFailure(ok bool, res at.Result) {
	if !ok {
		r.logger.Warn("Command failed", "command", res.Command, "result", int(res.Code))
	}
}

// readLocation reads the optional hex <lac>,<ci> pair; absent or invalid
// values are -1.
func readLocation(p *at.Parser) (lac, ci int) {
	lac, ci = -1, -1
	if !p.More() {
		return lac, ci
	}
	lac = parseHex(p.ReadString())
	ci = parseHex(p.ReadString())
	return lac, ci
}

func parseHex(s string) int {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 16, 64)
	if err != nil {
		return -1
	}
	return int(v)
}

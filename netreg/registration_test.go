package netreg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"i4.energy/across/modemcore/at"
	"i4.energy/across/modemcore/netreg"
)

type chatCall struct {
	cmd  string
	done netreg.ChatFunc
}

// scriptedChannel records the commands issued on a MockChannel so a test
// can complete them in order.
type scriptedChannel struct {
	*netreg.MockChannel
	t      *testing.T
	calls  []chatCall
	notify func(string)
}

func newScriptedChannel(t *testing.T, ctrl *gomock.Controller) *scriptedChannel {
	ch := &scriptedChannel{MockChannel: netreg.NewMockChannel(ctrl), t: t}
	ch.EXPECT().RegisterNotification(gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(prefix string, mayBeCommand bool, handler func(string)) {
			assert.Equal(t, at.Registration, prefix)
			assert.True(t, mayBeCommand)
			ch.notify = handler
		}).AnyTimes()
	ch.EXPECT().Chat(gomock.Any(), gomock.Any()).
		Do(func(cmd string, done netreg.ChatFunc) {
			ch.calls = append(ch.calls, chatCall{cmd: cmd, done: done})
		}).AnyTimes()
	return ch
}

// respond completes the oldest outstanding command, which must be cmd.
func (c *scriptedChannel) respond(cmd, content string, code at.ResultCode) {
	c.t.Helper()
	require.NotEmpty(c.t, c.calls, "no outstanding command, expected %q", cmd)
	call := c.calls[0]
	c.calls = c.calls[1:]
	require.Equal(c.t, cmd, call.cmd)
	if call.done != nil {
		call.done(code == at.ResultOK, at.Result{Command: cmd, Content: content, Code: code})
	}
}

func (c *scriptedChannel) ok(cmd string) {
	c.t.Helper()
	c.respond(cmd, "", at.ResultOK)
}

func (c *scriptedChannel) pending() []string {
	cmds := make([]string, 0, len(c.calls))
	for _, call := range c.calls {
		cmds = append(cmds, call.cmd)
	}
	return cmds
}

// events collects everything a Registration reports.
type events struct {
	states      []netreg.RegistrationState
	operators   []netreg.Operator
	results     []at.ResultCode
	scans       [][]netreg.AvailableOperator
	initialized int
}

func (e *events) observer() netreg.Observer {
	return netreg.ObserverFuncs{
		OnRegistrationStateChanged: func(state netreg.RegistrationState, _, _ int) {
			e.states = append(e.states, state)
		},
		OnCurrentOperatorChanged: func(op netreg.Operator) {
			e.operators = append(e.operators, op)
		},
		OnSetCurrentOperatorResult: func(code at.ResultCode) {
			e.results = append(e.results, code)
		},
		OnAvailableOperators: func(ops []netreg.AvailableOperator) {
			e.scans = append(e.scans, ops)
		},
		OnInitialized: func() {
			e.initialized++
		},
	}
}

var operatorQuery = []string{"AT+COPS=3,2", "AT+COPS?", "AT+COPS=3,0", "AT+COPS?"}

func setup(t *testing.T) (*netreg.Registration, *scriptedChannel, *scriptedChannel, *events) {
	ctrl := gomock.NewController(t)
	primary := newScriptedChannel(t, ctrl)
	secondary := newScriptedChannel(t, ctrl)
	ev := &events{}
	r := netreg.New(primary, secondary, netreg.WithObserver(ev.observer()))
	require.NotNil(t, primary.notify, "+CREG: handler not registered")
	return r, primary, secondary, ev
}

func TestNew(t *testing.T) {
	r, _, _, ev := setup(t)

	assert.Equal(t, netreg.None, r.State())
	assert.Equal(t, -1, r.LocationAreaCode())
	assert.Equal(t, -1, r.CellID())
	assert.False(t, r.Initialized())
	assert.Zero(t, r.CurrentOperator())
	assert.Empty(t, ev.states)
}

func TestResetModem(t *testing.T) {
	t.Run("Issues the same commands on every call", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		primary := netreg.NewMockChannel(ctrl)
		secondary := netreg.NewMockChannel(ctrl)

		primary.EXPECT().RegisterNotification("+CREG:", true, gomock.Any())
		gomock.InOrder(
			primary.EXPECT().Chat("AT+CREG=2", gomock.Any()),
			primary.EXPECT().Chat("AT+COPS=3,0", gomock.Any()),
			primary.EXPECT().Chat("AT+CREG?", gomock.Any()),
			primary.EXPECT().Chat("AT+CREG=2", gomock.Any()),
			primary.EXPECT().Chat("AT+COPS=3,0", gomock.Any()),
			primary.EXPECT().Chat("AT+CREG?", gomock.Any()),
		)

		r := netreg.New(primary, secondary)
		r.ResetModem()
		r.ResetModem()

		assert.Equal(t, netreg.None, r.State())
	})

	t.Run("Query response updates the state and latches initialization once", func(t *testing.T) {
		r, primary, _, ev := setup(t)

		for range 2 {
			r.ResetModem()
			primary.ok("AT+CREG=2")
			primary.ok("AT+COPS=3,0")
			primary.respond("AT+CREG?", `+CREG: 2,1,"1A2B","00C3"`, at.ResultOK)

			// a registered answer queries the operator
			require.Equal(t, operatorQuery, primary.pending())
			for _, cmd := range operatorQuery {
				primary.ok(cmd)
			}
		}

		assert.Equal(t, netreg.Home, r.State())
		assert.Equal(t, 0x1A2B, r.LocationAreaCode())
		assert.Equal(t, 0xC3, r.CellID())
		assert.True(t, r.Initialized())
		assert.Equal(t, 1, ev.initialized)
		assert.Equal(t, []netreg.RegistrationState{netreg.Home}, ev.states)
	})

	t.Run("Failed query does not initialize", func(t *testing.T) {
		r, primary, _, ev := setup(t)

		r.ResetModem()
		primary.ok("AT+CREG=2")
		primary.ok("AT+COPS=3,0")
		primary.respond("AT+CREG?", "", at.ResultError)

		assert.False(t, r.Initialized())
		assert.Zero(t, ev.initialized)
		assert.Empty(t, primary.pending())
	})
}

func TestRegistrationNotification(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		state   netreg.RegistrationState
		lac, ci int
		queries bool
	}{
		{"Home with location", `+CREG: 1,"1A2B","00C3"`, netreg.Home, 0x1A2B, 0xC3, true},
		{"Roaming", `+CREG: 5,"00A1","0B2C"`, netreg.Roaming, 0xA1, 0xB2C, true},
		{"Searching without location", "+CREG: 2", netreg.Searching, -1, -1, false},
		{"Denied", "+CREG: 3", netreg.Denied, -1, -1, false},
		{"Out of range stat", "+CREG: 9", netreg.Unknown, -1, -1, false},
		{"Garbage location", `+CREG: 1,"zz","00C3"`, netreg.Home, -1, 0xC3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, primary, _, ev := setup(t)

			primary.notify(tt.line)

			assert.Equal(t, tt.state, r.State())
			assert.Equal(t, tt.lac, r.LocationAreaCode())
			assert.Equal(t, tt.ci, r.CellID())
			assert.Equal(t, []netreg.RegistrationState{tt.state}, ev.states)
			if tt.queries {
				assert.Equal(t, operatorQuery, primary.pending())
			} else {
				assert.Empty(t, primary.pending())
			}
			// notifications never initialize
			assert.False(t, r.Initialized())
		})
	}

	t.Run("Unchanged state emits nothing", func(t *testing.T) {
		r, primary, _, ev := setup(t)

		primary.notify("+CREG: 2")
		primary.notify("+CREG: 2")

		assert.Equal(t, netreg.Searching, r.State())
		assert.Len(t, ev.states, 1)
	})
}

func TestOperatorQuery(t *testing.T) {
	t.Run("Correlates the numeric and alphanumeric answers", func(t *testing.T) {
		r, primary, _, ev := setup(t)

		primary.notify("+CREG: 1")
		primary.ok("AT+COPS=3,2")
		primary.respond("AT+COPS?", `+COPS: 0,2,"31026"`, at.ResultOK)

		id, ok := r.PendingOperatorID()
		require.True(t, ok)
		assert.Equal(t, uint32(31026), id)

		primary.ok("AT+COPS=3,0")
		primary.respond("AT+COPS?", `+COPS: 0,0,"Example Net"`, at.ResultOK)

		want := netreg.Operator{ID: "231026", Name: "Example Net", Mode: netreg.Automatic}
		assert.Equal(t, want, r.CurrentOperator())
		assert.Equal(t, []netreg.Operator{want}, ev.operators)

		_, ok = r.PendingOperatorID()
		assert.False(t, ok, "pending operator id must be consumed")
	})

	t.Run("Falls back to the name without a numeric answer", func(t *testing.T) {
		r, primary, _, _ := setup(t)

		primary.notify("+CREG: 1")
		primary.ok("AT+COPS=3,2")
		primary.respond("AT+COPS?", "", at.ResultError)
		primary.ok("AT+COPS=3,0")
		primary.respond("AT+COPS?", `+COPS: 1,0,"Example Net",7`, at.ResultOK)

		assert.Equal(t, netreg.Operator{
			ID:         "0Example Net",
			Name:       "Example Net",
			Technology: "E-UTRAN",
			Mode:       netreg.Manual,
		}, r.CurrentOperator())
		assert.True(t, r.SupportsOperatorTechnology())
	})

	t.Run("Unregistered modem has an empty operator", func(t *testing.T) {
		r, primary, _, ev := setup(t)

		primary.notify("+CREG: 1")
		primary.ok("AT+COPS=3,2")
		primary.respond("AT+COPS?", "+COPS: 0", at.ResultOK)
		primary.ok("AT+COPS=3,0")
		primary.respond("AT+COPS?", "+COPS: 0", at.ResultOK)

		assert.Zero(t, r.CurrentOperator())
		assert.Empty(t, ev.operators)
	})

	t.Run("Pending id is dropped when the second answer fails", func(t *testing.T) {
		r, primary, _, _ := setup(t)

		primary.notify("+CREG: 1")
		primary.ok("AT+COPS=3,2")
		primary.respond("AT+COPS?", `+COPS: 0,2,"31026"`, at.ResultOK)
		primary.ok("AT+COPS=3,0")
		primary.respond("AT+COPS?", "", at.ResultDead)

		_, ok := r.PendingOperatorID()
		assert.False(t, ok)
		assert.Zero(t, r.CurrentOperator())
	})
}

func TestFormatSetOperatorCommand(t *testing.T) {
	tests := []struct {
		name           string
		mode           netreg.OperatorMode
		id             string
		technology     string
		withTechnology bool
		want           string
	}{
		{"Automatic", netreg.Automatic, "", "", false, "AT+COPS=0"},
		{"Deregister", netreg.Deregister, "", "", false, "AT+COPS=2"},
		{"Numeric id", netreg.Manual, "231026", "", false, `AT+COPS=1,2,"31026"`},
		{"Short name", netreg.Manual, "1ExNet", "", false, `AT+COPS=1,1,"ExNet"`},
		{"Long name", netreg.ManualAutomatic, "0Example Net", "", false, `AT+COPS=4,0,"Example Net"`},
		{"Technology when supported", netreg.Manual, "231026", "UTRAN", true, `AT+COPS=1,2,"31026",2`},
		{"No technology when unsupported", netreg.Manual, "231026", "UTRAN", false, `AT+COPS=1,2,"31026"`},
		{"Unknown technology", netreg.Manual, "231026", "5G", true, `AT+COPS=1,2,"31026"`},
		{"Quote in name", netreg.Manual, `0A"B`, "", false, `AT+COPS=1,0,"A\22B"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := netreg.FormatSetOperatorCommand(tt.mode, tt.id, tt.technology, tt.withTechnology)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetCurrentOperator(t *testing.T) {
	t.Run("Updates the operator and queries again on success", func(t *testing.T) {
		r, primary, secondary, ev := setup(t)

		r.SetCurrentOperator(netreg.Manual, "231026", "GSM")
		require.Equal(t, []string{`AT+COPS=1,2,"31026"`}, secondary.pending())
		assert.Empty(t, primary.pending())

		secondary.ok(`AT+COPS=1,2,"31026"`)

		assert.Equal(t, netreg.Operator{ID: "231026", Name: "31026", Technology: "GSM", Mode: netreg.Manual}, r.CurrentOperator())
		assert.Equal(t, []at.ResultCode{at.ResultOK}, ev.results)
		assert.Equal(t, operatorQuery, primary.pending())

		primary.ok("AT+COPS=3,2")
		primary.respond("AT+COPS?", `+COPS: 1,2,"31026",0`, at.ResultOK)
		id, ok := r.PendingOperatorID()
		require.True(t, ok)
		assert.Equal(t, uint32(31026), id)

		primary.ok("AT+COPS=3,0")
		primary.respond("AT+COPS?", `+COPS: 1,0,"Example Net",0`, at.ResultOK)

		_, ok = r.PendingOperatorID()
		assert.False(t, ok, "pending operator id must be consumed")
		assert.Equal(t, netreg.Operator{ID: "231026", Name: "Example Net", Technology: "GSM", Mode: netreg.Manual}, r.CurrentOperator())
		assert.Empty(t, primary.pending())
	})

	t.Run("Reports the error code on failure", func(t *testing.T) {
		r, primary, secondary, ev := setup(t)

		r.SetCurrentOperator(netreg.Manual, "0Example Net", "")
		secondary.respond(`AT+COPS=1,0,"Example Net"`, "", at.ResultCode(30))

		assert.Equal(t, []at.ResultCode{30}, ev.results)
		assert.Zero(t, r.CurrentOperator())
		assert.Empty(t, primary.pending())
	})

	t.Run("Sends the technology once the modem reported one", func(t *testing.T) {
		r, primary, secondary, _ := setup(t)

		primary.notify("+CREG: 1")
		primary.ok("AT+COPS=3,2")
		primary.respond("AT+COPS?", `+COPS: 0,2,"31026",2`, at.ResultOK)
		primary.ok("AT+COPS=3,0")
		primary.respond("AT+COPS?", `+COPS: 0,0,"Example Net",2`, at.ResultOK)

		r.SetCurrentOperator(netreg.Manual, "231099", "E-UTRAN")
		assert.Equal(t, []string{`AT+COPS=1,2,"31099",7`}, secondary.pending())
	})

	t.Run("Uses a custom formatter", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		primary := newScriptedChannel(t, ctrl)
		r := netreg.New(primary, nil, netreg.WithCommandFormatter(
			func(mode netreg.OperatorMode, id, _ string, _ bool) string {
				return "AT$COPS=" + mode.String() + "," + id
			}))

		r.SetCurrentOperator(netreg.Manual, "231026", "")
		assert.Equal(t, []string{"AT$COPS=Manual,231026"}, primary.pending())
	})
}

func TestParseAvailableOperators(t *testing.T) {
	res := at.Result{
		Command: "AT+COPS=?",
		Content: `+COPS: (2,"Example Net","ExNet","31026",2),(1,"","Other","",0),(3,"","","31099"),(1,"Bad"),,(1,2,3,4),(0,1,2,3,4),(0,2)`,
		Code:    at.ResultOK,
	}

	ops, withTechnology := netreg.ParseAvailableOperators(res)

	assert.True(t, withTechnology)
	assert.Equal(t, []netreg.AvailableOperator{
		{Availability: netreg.Current, Name: "Example Net", ID: "231026", Technology: "UTRAN"},
		{Availability: netreg.Available, Name: "Other", ID: "1Other", Technology: "GSM"},
		{Availability: netreg.Forbidden, Name: "31099", ID: "231099"},
	}, ops)
}

func TestRequestAvailableOperators(t *testing.T) {
	t.Run("Reports the scanned operators", func(t *testing.T) {
		r, _, secondary, ev := setup(t)

		r.RequestAvailableOperators()
		secondary.respond("AT+COPS=?", `+COPS: (1,"Example Net","ExNet","31026",7),,(0,1),(0,2)`, at.ResultOK)

		require.Len(t, ev.scans, 1)
		assert.Equal(t, []netreg.AvailableOperator{
			{Availability: netreg.Available, Name: "Example Net", ID: "231026", Technology: "E-UTRAN"},
		}, ev.scans[0])
		assert.True(t, r.SupportsOperatorTechnology())
	})

	t.Run("Reports an empty list on failure", func(t *testing.T) {
		r, _, secondary, ev := setup(t)

		r.RequestAvailableOperators()
		secondary.respond("AT+COPS=?", "", at.ResultDead)

		require.Len(t, ev.scans, 1)
		assert.Empty(t, ev.scans[0])
		assert.False(t, r.SupportsOperatorTechnology())
	})
}

func TestChannelLost(t *testing.T) {
	r, primary, secondary, ev := setup(t)

	primary.notify(`+CREG: 1,"1A2B","00C3"`)
	primary.ok("AT+COPS=3,2")
	primary.respond("AT+COPS?", `+COPS: 0,2,"31026"`, at.ResultOK)
	primary.ok("AT+COPS=3,0")
	primary.respond("AT+COPS?", `+COPS: 0,0,"Example Net"`, at.ResultOK)
	require.Equal(t, "231026", r.CurrentOperator().ID)

	r.ChannelLost()
	r.ChannelLost()

	assert.Equal(t, netreg.None, r.State())
	assert.Equal(t, -1, r.LocationAreaCode())
	assert.Zero(t, r.CurrentOperator())
	assert.Equal(t, []netreg.RegistrationState{netreg.Home, netreg.None}, ev.states)
	assert.Len(t, ev.operators, 2)

	t.Run("Ignores notifications", func(t *testing.T) {
		primary.notify("+CREG: 1")
		assert.Equal(t, netreg.None, r.State())
		assert.Empty(t, primary.pending())
	})

	t.Run("Fails operator commands without using the channel", func(t *testing.T) {
		r.SetCurrentOperator(netreg.Automatic, "", "")
		r.RequestAvailableOperators()

		assert.Equal(t, []at.ResultCode{at.ResultDead}, ev.results)
		require.Len(t, ev.scans, 1)
		assert.Empty(t, ev.scans[0])
		assert.Empty(t, secondary.pending())
	})

	t.Run("ResetModem revives the registration", func(t *testing.T) {
		r.ResetModem()
		primary.ok("AT+CREG=2")
		primary.ok("AT+COPS=3,0")
		primary.respond("AT+CREG?", "+CREG: 2,5", at.ResultOK)

		assert.Equal(t, netreg.Roaming, r.State())
		assert.True(t, r.Initialized())
	})
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "Roaming", netreg.Roaming.String())
	assert.Equal(t, "ManualAutomatic", netreg.ManualAutomatic.String())
	assert.Equal(t, "Forbidden", netreg.Forbidden.String())
	assert.Equal(t, "HSDPAHSUPA", netreg.TechnologyName(6))
	assert.Empty(t, netreg.TechnologyName(8))

	mode, ok := netreg.ParseOperatorMode("manual")
	assert.True(t, ok)
	assert.Equal(t, netreg.Manual, mode)
}

package netreg

import "i4.energy/across/modemcore/at"

// Observer receives the events of a Registration. Methods are called on the
// goroutine that drives the Registration and must not block.
type Observer interface {
	RegistrationStateChanged(state RegistrationState, lac, ci int)
	CurrentOperatorChanged(op Operator)
	SetCurrentOperatorResult(code at.ResultCode)
	AvailableOperators(ops []AvailableOperator)
	// Initialized is called once, when the first registration query completes.
	Initialized()
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) RegistrationStateChanged(RegistrationState, int, int) {}
func (NopObserver) CurrentOperatorChanged(Operator)                      {}
func (NopObserver) SetCurrentOperatorResult(at.ResultCode)               {}
func (NopObserver) AvailableOperators([]AvailableOperator)               {}
func (NopObserver) Initialized()                                         {}

// ObserverFuncs adapts a set of functions to Observer. Nil fields are
// skipped.
type ObserverFuncs struct {
	OnRegistrationStateChanged func(state RegistrationState, lac, ci int)
	OnCurrentOperatorChanged   func(op Operator)
	OnSetCurrentOperatorResult func(code at.ResultCode)
	OnAvailableOperators       func(ops []AvailableOperator)
	OnInitialized              func()
}

func (f ObserverFuncs) RegistrationStateChanged(state RegistrationState, lac, ci int) {
	if f.OnRegistrationStateChanged != nil {
		f.OnRegistrationStateChanged(state, lac, ci)
	}
}

func (f ObserverFuncs) CurrentOperatorChanged(op Operator) {
	if f.OnCurrentOperatorChanged != nil {
		f.OnCurrentOperatorChanged(op)
	}
}

func (f ObserverFuncs) SetCurrentOperatorResult(code at.ResultCode) {
	if f.OnSetCurrentOperatorResult != nil {
		f.OnSetCurrentOperatorResult(code)
	}
}

func (f ObserverFuncs) AvailableOperators(ops []AvailableOperator) {
	if f.OnAvailableOperators != nil {
		f.OnAvailableOperators(ops)
	}
}

func (f ObserverFuncs) Initialized() {
	if f.OnInitialized != nil {
		f.OnInitialized()
	}
}

// observers fans events out to several observers in order.
type observers []Observer

func (o observers) RegistrationStateChanged(state RegistrationState, lac, ci int) {
	for _, obs := range o {
		obs.RegistrationStateChanged(state, lac, ci)
	}
}

func (o observers) CurrentOperatorChanged(op Operator) {
	for _, obs := range o {
		obs.CurrentOperatorChanged(op)
	}
}

func (o observers) SetCurrentOperatorResult(code at.ResultCode) {
	for _, obs := range o {
		obs.SetCurrentOperatorResult(code)
	}
}

func (o observers) AvailableOperators(ops []AvailableOperator) {
	for _, obs := range o {
		obs.AvailableOperators(ops)
	}
}

func (o observers) Initialized() {
	for _, obs := range o {
		obs.Initialized()
	}
}

package obex

// Observer receives the events of a Session. Methods run on the goroutine
// driving the session and may call back into it.
type Observer interface {
	PutRequested(name, typ string, size uint32, description string)
	BusinessCardRequested()
	StateChanged(state State)
	DataTransferProgress(done, total uint32)
	RequestFinished(hasError bool)
	// Done reports that the session ended. hasError is false only after a
	// regular disconnect.
	Done(hasError bool)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) PutRequested(string, string, uint32, string) {}
func (NopObserver) BusinessCardRequested()                      {}
func (NopObserver) StateChanged(State)                          {}
func (NopObserver) DataTransferProgress(uint32, uint32)         {}
func (NopObserver) RequestFinished(bool)                        {}
func (NopObserver) Done(bool)                                   {}

// ObserverFuncs adapts a set of functions to Observer. Nil fields are
// skipped.
type ObserverFuncs struct {
	OnPutRequested          func(name, typ string, size uint32, description string)
	OnBusinessCardRequested func()
	OnStateChanged          func(state State)
	OnDataTransferProgress  func(done, total uint32)
	OnRequestFinished       func(hasError bool)
	OnDone                  func(hasError bool)
}

func (f ObserverFuncs) PutRequested(name, typ string, size uint32, description string) {
	if f.OnPutRequested != nil {
		f.OnPutRequested(name, typ, size, description)
	}
}

func (f ObserverFuncs) BusinessCardRequested() {
	if f.OnBusinessCardRequested != nil {
		f.OnBusinessCardRequested()
	}
}

func (f ObserverFuncs) StateChanged(state State) {
	if f.OnStateChanged != nil {
		f.OnStateChanged(state)
	}
}

func (f ObserverFuncs) DataTransferProgress(done, total uint32) {
	if f.OnDataTransferProgress != nil {
		f.OnDataTransferProgress(done, total)
	}
}

func (f ObserverFuncs) RequestFinished(hasError bool) {
	if f.OnRequestFinished != nil {
		f.OnRequestFinished(hasError)
	}
}

func (f ObserverFuncs) Done(hasError bool) {
	if f.OnDone != nil {
		f.OnDone(hasError)
	}
}

type observers []Observer

func (o observers) PutRequested(name, typ string, size uint32, description string) {
	for _, obs := range o {
		obs.PutRequested(name, typ, size, description)
	}
}

func (o observers) BusinessCardRequested() {
	for _, obs := range o {
		obs.BusinessCardRequested()
	}
}

func (o observers) StateChanged(state State) {
	for _, obs := range o {
		obs.StateChanged(state)
	}
}

func (o observers) DataTransferProgress(done, total uint32) {
	for _, obs := range o {
		obs.DataTransferProgress(done, total)
	}
}

func (o observers) RequestFinished(hasError bool) {
	for _, obs := range o {
		obs.RequestFinished(hasError)
	}
}

func (o observers) Done(hasError bool) {
	for _, obs := range o {
		obs.Done(hasError)
	}
}

package mailbox

// State is the persisted state of a connection: Connected or Disconnected.
// A removed connection has no row and therefore no State.
type State interface {
	Active() bool
	Credentials() Credentials
	Watch() Watch
	isState()
}

// Connected holds live credentials and a registered watch.
type Connected struct {
	Creds        Credentials
	Subscription Watch
}

// Disconnected keeps the row after a provider error. The watch may already
// have lapsed.
type Disconnected struct {
	Creds        Credentials
	Subscription Watch
	Reason       string
}

// Active reports true.
func (Connected) Active() bool { return true }

// Credentials returns the live tokens.
func (c Connected) Credentials() Credentials { return c.Creds }

// Watch returns the registered watch.
func (c Connected) Watch() Watch { return c.Subscription }

func (Connected) isState() {}

// Active reports false.
func (Disconnected) Active() bool { return false }

// Credentials returns the last known tokens.
func (d Disconnected) Credentials() Credentials { return d.Creds }

// Watch returns the last registered watch.
func (d Disconnected) Watch() Watch { return d.Subscription }

func (Disconnected) isState() {}

// Disconnect is the only way to leave Connected while keeping the row.
func (c Connected) Disconnect(reason string) Disconnected {
	return Disconnected{Creds: c.Creds, Subscription: c.Subscription, Reason: reason}
}

// connect builds the Connected state. A watch is required, so there is no
// Connected value without one.
func connect(creds Credentials, watch Watch) (Connected, error) {
	if watch.Handle == "" {
		return Connected{}, watchFailure("", errEmptyWatchHandle)
	}
	return Connected{Creds: creds, Subscription: watch}, nil
}

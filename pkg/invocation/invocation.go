// Package invocation models a recorded call and the collaborators that build
// and consume it.
package invocation

import (
	"fmt"
	"time"

	"github.com/srediag/plugin-watch/pkg/event"
)

// Type identifies the kind of traffic a plugin records.
type Type int

const (
	TypeUnknown Type = iota
	TypeHTTP
	TypeJava
	TypeDubbo
	TypeMyBatis
	TypeRedis
	TypeOkHTTP
)

var typeNames = map[Type]string{
	TypeUnknown: "UNKNOWN",
	TypeHTTP:    "HTTP",
	TypeJava:    "JAVA",
	TypeDubbo:   "DUBBO",
	TypeMyBatis: "MYBATIS",
	TypeRedis:   "REDIS",
	TypeOkHTTP:  "OKHTTP",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Identity names the intercepted endpoint, e.g. "java://com.example.Service/call".
type Identity struct {
	Scheme   string
	Location string
	Endpoint string
}

func (i Identity) String() string {
	return i.Scheme + "://" + i.Location + "/" + i.Endpoint
}

// Invocation is one intercepted call, from entry to return or throw.
type Invocation struct {
	TraceID   string
	Index     int
	InvokeID  int
	ProcessID int
	Entrance  bool
	Type      Type
	Identity  Identity

	Request   []any
	Response  any
	Throwable error

	Start time.Time
	End   time.Time
}

// Duration is zero until the invocation completes.
func (inv *Invocation) Duration() time.Duration {
	if inv.End.IsZero() {
		return 0
	}
	return inv.End.Sub(inv.Start)
}

// Listener consumes completed invocations.
type Listener interface {
	OnInvocation(inv *Invocation)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(inv *Invocation)

func (f ListenerFunc) OnInvocation(inv *Invocation) {
	f(inv)
}

// Processor extracts domain data from intercepted events.
type Processor interface {
	// IgnoreEvent drops an event before any invocation is built.
	IgnoreEvent(ev *event.Event) bool
	AssembleIdentity(ev *event.Event) Identity
	AssembleRequest(ev *event.Event) []any
	AssembleResponse(ev *event.Event) any
	AssembleThrowable(ev *event.Event) error
}

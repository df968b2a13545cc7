// Package engine describes the script interpreter capability and the drivers
// that provide it. An interpreter accepts source fragments and string
// arguments and returns exactly one tagged value or fails.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// JSRuntime is the driver name under which the active JavaScript engine is registered.
const JSRuntime = "JsRuntime"

// ValueKind tags an interpreter result.
type ValueKind string

const (
	KindString    ValueKind = "string"
	KindBytes     ValueKind = "bytes"
	KindUndefined ValueKind = "undefined"
	KindOther     ValueKind = "other"
)

// Value is the single tagged result of an execution. Text holds the string for
// KindString and a diagnostic rendering for everything else.
type Value struct {
	Kind  ValueKind
	Text  string
	Bytes []byte
}

func String(s string) Value   { return Value{Kind: KindString, Text: s} }
func Bytes(b []byte) Value    { return Value{Kind: KindBytes, Bytes: b} }
func Undefined() Value        { return Value{Kind: KindUndefined} }
func Other(desc string) Value { return Value{Kind: KindOther, Text: desc} }

// AsString returns the string payload when the value is a string.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.Text, true
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return fmt.Sprintf("String(%q)", v.Text)
	case KindBytes:
		return fmt.Sprintf("Bytes(%d bytes)", len(v.Bytes))
	case KindUndefined:
		return "Undefined"
	default:
		return fmt.Sprintf("Other(%s)", v.Text)
	}
}

// Fault is an interpreter-level failure: a thrown exception, a compile error,
// a trap or an exhausted budget.
type Fault struct {
	Detail string
}

func (f *Fault) Error() string { return "script fault: " + f.Detail }

// Faultf builds a Fault.
func Faultf(format string, args ...interface{}) *Fault {
	return &Fault{Detail: fmt.Sprintf(format, args...)}
}

// IsFault reports whether err carries a Fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

// Interpreter runs fragments in order within one shared global scope, with
// args visible to the first fragment as the global array scriptArgs.
type Interpreter interface {
	Execute(ctx context.Context, fragments []string, args []string) (Value, error)
}

// InterpreterFunc adapts a function to Interpreter.
type InterpreterFunc func(ctx context.Context, fragments []string, args []string) (Value, error)

func (f InterpreterFunc) Execute(ctx context.Context, fragments []string, args []string) (Value, error) {
	return f(ctx, fragments, args)
}

// Package demo registers the example methods served by jsonrpc2d.
package demo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/morezero/jsonrpc2/pkg/registry"
)

const logPrefix = "demo:methods"

// DefaultIterations is the loop count slow_subtract burns when none is given.
const DefaultIterations = 1_000_000

// MaxIterations caps slow_subtract; larger counts are refused.
const MaxIterations = 100_000_000

// MaxSleep caps the sleep method.
const MaxSleep = 10 * time.Second

// ErrDemoFailure is what have_error_method always fails with.
var ErrDemoFailure = errors.New("have_error_method always fails")

// Install registers every demo method on reg. The worker process must call it too so both
// sides agree on the Process lane table.
func Install(reg *registry.Registry) error {
	type inline struct {
		name string
		fn   registry.Handler
		lane registry.Lane
		opts []registry.Option
	}
	methods := []inline{
		{"subtract", Subtract, registry.LaneInline, []registry.Option{
			registry.WithParams(registry.Required("minuend"), registry.Required("subtrahend"))}},
		{"add", Add, registry.LaneInline, []registry.Option{
			registry.WithParams(registry.Required("num1"), registry.Required("num2"))}},
		{"sum", Sum, registry.LaneInline, []registry.Option{registry.WithRest()}},
		{"notify_hello", NotifyHello, registry.LaneInline, []registry.Option{
			registry.WithParams(registry.Optional("value", nil))}},
		{"have_error_method", HaveError, registry.LaneInline, []registry.Option{
			registry.WithParams(registry.Optional("arg", nil))}},
		{"get_data", GetData, registry.LaneThread, nil},
		{"echo", Echo, registry.LaneThread, []registry.Option{
			registry.WithParams(registry.Required("value"))}},
		{"sleep", Sleep, registry.LaneThread, []registry.Option{
			registry.WithParams(registry.Optional("ms", 100))}},
	}
	for _, m := range methods {
		if err := reg.Register(m.name, m.fn, m.lane, m.opts...); err != nil {
			return fmt.Errorf("%s - %w", logPrefix, err)
		}
	}

	if err := reg.RegisterProcess("slow_subtract", SlowSubtract, registry.WithParams(
		registry.Required("minuend"), registry.Required("subtrahend"),
		registry.Optional("iterations", DefaultIterations))); err != nil {
		return fmt.Errorf("%s - %w", logPrefix, err)
	}
	return nil
}

func decodePair(args *registry.Args) (float64, float64, error) {
	var a, b float64
	if err := args.Decode(0, &a); err != nil {
		return 0, 0, err
	}
	if err := args.Decode(1, &b); err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// Subtract returns minuend - subtrahend.
func Subtract(_ context.Context, args *registry.Args) (any, error) {
	a, b, err := decodePair(args)
	if err != nil {
		return nil, err
	}
	return a - b, nil
}

// Add returns num1 + num2.
func Add(_ context.Context, args *registry.Args) (any, error) {
	a, b, err := decodePair(args)
	if err != nil {
		return nil, err
	}
	return a + b, nil
}

// Sum adds every positional argument.
func Sum(_ context.Context, args *registry.Args) (any, error) {
	var nums []float64
	if err := registry.DecodeRest(args, &nums); err != nil {
		return nil, err
	}
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return total, nil
}

// NotifyHello accepts anything and returns nothing; it is meant to be sent as a notification.
func NotifyHello(context.Context, *registry.Args) (any, error) {
	return nil, nil
}

// HaveError always fails.
func HaveError(context.Context, *registry.Args) (any, error) {
	return nil, ErrDemoFailure
}

// GetData returns a fixed list.
func GetData(context.Context, *registry.Args) (any, error) {
	return []any{"hello", 5}, nil
}

// Echo returns its argument unchanged.
func Echo(_ context.Context, args *registry.Args) (any, error) {
	var v any
	if err := args.Decode(0, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Sleep waits ms milliseconds, at most MaxSleep, and returns the time actually slept.
func Sleep(ctx context.Context, args *registry.Args) (any, error) {
	var ms int
	if err := args.Decode(0, &ms); err != nil {
		return nil, err
	}
	if ms < 0 {
		return nil, fmt.Errorf("%s - negative sleep %d", logPrefix, ms)
	}
	if ms > int(MaxSleep/time.Millisecond) {
		ms = int(MaxSleep / time.Millisecond)
	}
	d := time.Duration(ms) * time.Millisecond
	start := time.Now()
	select {
	case <-time.After(d):
		return time.Since(start).Milliseconds(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SlowResult is the result of slow_subtract.
type SlowResult struct {
	Difference float64 `json:"difference"`
	Checksum   int64   `json:"checksum"`
}

// SlowSubtract burns CPU for iterations loop turns, at most MaxIterations, then subtracts.
// It runs on the Process lane.
func SlowSubtract(args *registry.Args) (any, error) {
	a, b, err := decodePair(args)
	if err != nil {
		return nil, err
	}
	var n int64
	if err := args.Decode(2, &n); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%s - negative iterations %d", logPrefix, n)
	}
	if n > MaxIterations {
		return nil, fmt.Errorf("%s - %d iterations exceeds the limit of %d", logPrefix, n, MaxIterations)
	}
	var sum int64
	for i := int64(0); i < n; i++ {
		sum += i
	}
	return SlowResult{Difference: a - b, Checksum: sum}, nil
}

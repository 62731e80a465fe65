// Package target parses weighted TCP targets and picks one per attempt.
package target

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Target is one weighted TCP destination.
type Target struct {
	Host   string `json:"host" yaml:"host"`
	Port   uint16 `json:"port" yaml:"port"`
	Weight uint32 `json:"weight" yaml:"weight"`
}

// Addr returns host:port suitable for net.Dial.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// String returns the host:port:weight form accepted by Parse.
func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Addr(), t.Weight)
}

// ParseError describes a target spec that could not be parsed.
type ParseError struct {
	Spec   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid target %q: %s: %v", e.Spec, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid target %q: %s", e.Spec, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse reads a "host:port:weight" spec. The weight is the text after the last
// colon and the rest is split with net.SplitHostPort, so IPv6 hosts must be
// bracketed: "[::1]:9000:5".
func Parse(spec string) (Target, error) {
	s := strings.TrimSpace(spec)
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return Target{}, &ParseError{Spec: spec, Reason: "expected host:port:weight"}
	}

	weight, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return Target{}, &ParseError{Spec: spec, Reason: "invalid weight", Err: err}
	}

	host, portStr, err := net.SplitHostPort(s[:idx])
	if err != nil {
		return Target{}, &ParseError{Spec: spec, Reason: "invalid host:port", Err: err}
	}
	if host == "" {
		return Target{}, &ParseError{Spec: spec, Reason: "host is empty"}
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Target{}, &ParseError{Spec: spec, Reason: "invalid port", Err: err}
	}

	return Target{Host: host, Port: uint16(port), Weight: uint32(weight)}, nil
}

// ParseAll parses specs in order, stopping at the first failure.
func ParseAll(specs []string) ([]Target, error) {
	targets := make([]Target, 0, len(specs))
	for idx, spec := range specs {
		t, err := Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", idx, err)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// TotalWeight sums the weights of targets.
func TotalWeight(targets []Target) uint64 {
	var total uint64
	for _, t := range targets {
		total += uint64(t.Weight)
	}
	return total
}

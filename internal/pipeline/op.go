// Package pipeline holds the Op and QoS vocabulary, pipeline specs and the
// named pipeline catalog.
package pipeline

import (
	"fmt"
	"strings"
)

// Op identifies one atomic processing stage.
type Op uint8

const (
	OpDemux Op = iota
	OpDecode
	OpFilter
	OpEstimate
	OpExport
	OpParse
	OpMap
	OpMaintenance
)

var opNames = [...]string{
	OpDemux:       "demux",
	OpDecode:      "decode",
	OpFilter:      "filter",
	OpEstimate:    "estimate",
	OpExport:      "export",
	OpParse:       "parse",
	OpMap:         "map",
	OpMaintenance: "maintenance",
}

// opByName is the only place op names are translated into ops.
var opByName = func() map[string]Op {
	m := make(map[string]Op, len(opNames))
	for op, name := range opNames {
		m[name] = Op(op)
	}
	return m
}()

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Valid reports whether o is one of the declared ops.
func (o Op) Valid() bool {
	return int(o) < len(opNames)
}

// UnknownOpError is returned when an op name is not part of the vocabulary.
type UnknownOpError struct {
	Token string
}

func (e *UnknownOpError) Error() string {
	return fmt.Sprintf("unknown op %q", e.Token)
}

// ParseOp translates an op name. Names are matched case-insensitively after
// trimming; anything else is an *UnknownOpError carrying the raw token.
func ParseOp(name string) (Op, error) {
	op, ok := opByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, &UnknownOpError{Token: name}
	}
	return op, nil
}

// AllOps lists the vocabulary in declaration order.
func AllOps() []Op {
	ops := make([]Op, len(opNames))
	for i := range opNames {
		ops[i] = Op(i)
	}
	return ops
}

// QoS is the scheduling intent of a job.
type QoS uint8

const (
	QoSBalanced QoS = iota
	QoSThroughput
	QoSLatency
)

func (q QoS) String() string {
	switch q {
	case QoSThroughput:
		return "throughput"
	case QoSLatency:
		return "latency"
	case QoSBalanced:
		return "balanced"
	}
	return fmt.Sprintf("qos(%d)", uint8(q))
}

// UnknownQoSError is returned for an unrecognised QoS name.
type UnknownQoSError struct {
	Token string
}

func (e *UnknownQoSError) Error() string {
	return fmt.Sprintf("unknown qos %q", e.Token)
}

// ParseQoS translates a QoS name. An empty name is rejected like any other
// unknown token.
func ParseQoS(name string) (QoS, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "throughput":
		return QoSThroughput, nil
	case "latency":
		return QoSLatency, nil
	case "balanced":
		return QoSBalanced, nil
	}
	return 0, &UnknownQoSError{Token: name}
}

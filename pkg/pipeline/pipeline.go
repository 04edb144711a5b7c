// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package pipeline executes ordered phases over a shared attribute bag. A
// failing phase might jump back to an earlier savepoint to retry the
// following phases under another strategy.
//
// Outgoing is the pipeline sending messages.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// Phase transforms the previous phase's output.
type Phase interface {
	Name() string
	Run(ctx context.Context, pc *Context, in interface{}) (interface{}, error)
}

type typedPhase[In, Out any] struct {
	name string
	run  func(ctx context.Context, pc *Context, in In) (Out, error)
}

// NewPhase from a typed function. A mismatching input fails the phase.
func NewPhase[In, Out any](name string, run func(ctx context.Context, pc *Context, in In) (Out, error)) Phase {
	return typedPhase[In, Out]{name: name, run: run}
}

func (p typedPhase[In, Out]) Name() string {
	return p.name
}

func (p typedPhase[In, Out]) Run(ctx context.Context, pc *Context, in interface{}) (interface{}, error) {
	typed, ok := in.(In)
	if !ok && in != nil {
		return nil, fmt.Errorf("pipeline: phase %s expects %T, got %T", p.name, typed, in)
	}
	return p.run(ctx, pc, typed)
}

// Node of a Pipeline.
type Node struct {
	Phase Phase

	// Savepoint marks this node as the savepoint with the given positive id.
	Savepoint int

	// OnFailureJumpTo names a savepoint to return to if this node fails.
	OnFailureJumpTo int
}

// Savepoint returns a node passing its input through, marked as savepoint id.
func Savepoint(id int) Node {
	return Node{
		Phase: NewPhase(fmt.Sprintf("Savepoint(%d)", id), func(_ context.Context, _ *Context, in interface{}) (interface{}, error) {
			return in, nil
		}),
		Savepoint: id,
	}
}

// FinallyPhase runs after all nodes, regardless of their outcome.
type FinallyPhase struct {
	Name string
	Run  func(ctx context.Context, pc *Context) error
}

// Context of one execution.
type Context struct {
	*Attributes

	mutex     sync.Mutex
	collected *multierror.Error
	err       error
	logger    *log.Entry
}

// NewContext with empty Attributes.
func NewContext(logger *log.Entry) *Context {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Context{
		Attributes: NewAttributes(),
		logger:     logger,
	}
}

// Logger of this execution.
func (pc *Context) Logger() *log.Entry {
	return pc.logger
}

// Err is the error which terminated the nodes, if any.
func (pc *Context) Err() error {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	return pc.err
}

// Collected returns all node failures, including those recovered by a jump.
func (pc *Context) Collected() error {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	return pc.collected.ErrorOrNil()
}

func (pc *Context) collect(err error) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	pc.collected = multierror.Append(pc.collected, err)
}

func (pc *Context) fail(err error) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	pc.err = err
}

// Pipeline is an ordered list of nodes and finally phases.
type Pipeline struct {
	Name    string
	Nodes   []Node
	Finally []FinallyPhase

	// OnJump decides if a failed node returns to its savepoint. Without
	// OnJump, every failure terminates the execution.
	OnJump func(pc *Context, node Node, err error) bool

	// MaxJumps bounds the jumps of one execution.
	MaxJumps int
}

type savepoint struct {
	index int
	value interface{}
}

// Execute the Pipeline for an input. The result is the last node's output
// together with the errors returned by the finally phases.
func (p *Pipeline) Execute(ctx context.Context, pc *Context, input interface{}) (interface{}, error) {
	logger := pc.Logger().WithField("pipeline", p.Name)

	savepoints := make(map[int]savepoint)
	value := input
	jumps := 0

	for i := 0; i < len(p.Nodes); {
		node := p.Nodes[i]
		if node.Savepoint > 0 {
			savepoints[node.Savepoint] = savepoint{index: i, value: value}
		}

		out, err := runPhase(ctx, pc, node.Phase, value)
		if err == nil {
			value = out
			i++
			continue
		}

		pc.collect(err)
		nodeLogger := logger.WithFields(log.Fields{
			"phase": node.Phase.Name(),
			"error": err,
		})

		if sp, ok := savepoints[node.OnFailureJumpTo]; ok && jumps < p.MaxJumps && p.OnJump != nil && p.OnJump(pc, node, err) {
			nodeLogger.WithField("savepoint", node.OnFailureJumpTo).Debug("Phase failed, jumping back to savepoint")

			jumps++
			value = sp.value
			i = sp.index + 1
			continue
		}

		nodeLogger.Debug("Phase failed")
		pc.fail(err)
		value = nil
		break
	}

	var finallyErrs []error
	for _, phase := range p.Finally {
		if err := runFinally(ctx, pc, phase); err != nil {
			finallyErrs = append(finallyErrs, err)
		}
	}

	switch len(finallyErrs) {
	case 0:
		return value, nil
	case 1:
		return value, finallyErrs[0]
	default:
		return value, multierror.Append(nil, finallyErrs...)
	}
}

// runPhase converts panics into errors.
func runPhase(ctx context.Context, pc *Context, phase Phase, in interface{}) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("pipeline: phase %s panicked: %v", phase.Name(), r)
		}
	}()
	return phase.Run(ctx, pc, in)
}

func runFinally(ctx context.Context, pc *Context, phase FinallyPhase) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: finally phase %s panicked: %v", phase.Name, r)
		}
	}()
	return phase.Run(ctx, pc)
}

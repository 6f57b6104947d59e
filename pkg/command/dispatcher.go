// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package command

import (
	"errors"
	"fmt"

	"github.com/kubisat/flightlink/pkg/kbst"
)

// Execute runs one request frame against the registry and returns the reply.
// The reply is always a single ANS or ERR frame for the request's parameter.
func (r *Registry) Execute(req kbst.Frame) kbst.Frame {
	if !req.Operation.IsRequest() {
		return r.reject(req, kbst.ExceptionInvalidOperation, "not a request")
	}

	entry, ok := r.Lookup(req.Parameter)
	if !ok {
		return r.reject(req, kbst.ExceptionInvalidParam, "unknown parameter")
	}

	if req.Operation == kbst.OpGet {
		return r.get(entry, req)
	}
	return r.set(entry, req)
}

func (r *Registry) get(e Entry, req kbst.Frame) kbst.Frame {
	if !e.Access.CanRead() {
		return r.reject(req, kbst.ExceptionNotAllowed, "not readable")
	}

	var (
		v   kbst.Value
		err error
	)
	switch {
	case req.HasValue() && e.Query == nil:
		return r.reject(req, kbst.ExceptionParamUnnecessary, "argument not accepted")
	case req.HasValue():
		err = guard(func() error {
			v, err = e.Query(*req.Value)
			return err
		})
	case e.Get != nil:
		err = guard(func() error {
			v, err = e.Get()
			return err
		})
	default:
		return r.reject(req, kbst.ExceptionInvalidParam, "argument required")
	}

	if err != nil {
		return r.failed(e, req, err)
	}
	return kbst.NewAnswer(e.ID, v)
}

func (r *Registry) set(e Entry, req kbst.Frame) kbst.Frame {
	if !e.Access.CanWrite() {
		return r.reject(req, kbst.ExceptionNotAllowed, "not writable")
	}
	if !e.Settable() {
		return r.reject(req, kbst.ExceptionInvalidOperation, "no setter")
	}

	if e.Action != nil {
		if req.HasValue() {
			return r.reject(req, kbst.ExceptionParamUnnecessary, "action takes no value")
		}
		if err := guard(e.Action); err != nil {
			return r.failed(e, req, err)
		}
		return kbst.NewAcknowledge(e.ID)
	}

	if !req.HasValue() {
		return r.reject(req, kbst.ExceptionInvalidParam, "value required")
	}
	if req.Value.Unit() != e.Unit {
		return r.reject(req, kbst.ExceptionInvalidParam,
			fmt.Sprintf("unit %s, expected %s", req.Value.Unit(), e.Unit))
	}

	var result *kbst.Value
	err := guard(func() error {
		var err error
		result, err = e.Set(*req.Value)
		return err
	})
	if err != nil {
		return r.failed(e, req, err)
	}
	if result == nil {
		result = req.Value
	}
	return kbst.NewAnswer(e.ID, *result)
}

// guard converts a handler panic into an error
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return fn()
}

func (r *Registry) reject(req kbst.Frame, exc kbst.ExceptionType, reason string) kbst.Frame {
	r.logger.Debug().
		Str("op", req.Operation.String()).
		Str("parameter", req.Parameter.String()).
		Str("exception", exc.String()).
		Msg(reason)
	return kbst.NewError(req.Parameter, exc)
}

func (r *Registry) failed(e Entry, req kbst.Frame, err error) kbst.Frame {
	exc := kbst.ExceptionInvalidOperation
	if errors.Is(err, ErrInvalidValue) {
		exc = kbst.ExceptionInvalidParam
	}
	r.logger.Warn().
		Err(err).
		Str("op", req.Operation.String()).
		Str("parameter", e.ID.String()).
		Str("name", e.Name).
		Str("exception", exc.String()).
		Msg("handler failed")
	return kbst.NewError(req.Parameter, exc)
}

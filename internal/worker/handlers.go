package worker

import (
	"context"
	"errors"

	"github.com/lmittmann/tint"
	"github.com/programme-lv/autograder/api"
	"github.com/programme-lv/autograder/internal/lane"
	"github.com/programme-lv/autograder/internal/luavm"
	"github.com/programme-lv/autograder/internal/namespace"
	"github.com/programme-lv/autograder/internal/policy"
	"github.com/programme-lv/autograder/pkg/codec"
)

func (w *Worker) handleStart(ctx context.Context, req api.Start) api.Message {
	res := api.StartResult{Header: api.NewHeader(req.ID, api.StartResultMsg)}
	w.state = Ready

	pol := policy.New(req.ImportWhitelist, req.ImportBlacklist)
	if unknown := pol.Unknown(); len(unknown) > 0 {
		w.log.Warn("ignoring unknown libraries in allow list", "names", unknown)
	}
	rt, err := luavm.New(luavm.Options{
		FileName:  req.StudentFileName,
		Policy:    pol,
		MaxOutput: w.opts.MaxOutput,
	})
	if err != nil {
		w.log.Error("interpreter setup failed", tint.Err(err))
		res.Status = api.StartException
		res.ExecutionError = ptr(luavm.InternalError + ": " + err.Error())
		res.ExecutionTraceback = err.Error()
		return res
	}
	w.rt = rt

	cctx, cancel := context.WithTimeout(ctx, w.timeout(req.InitTimeout))
	defer cancel()

	var out luavm.Outcome
	err = w.lane.Run(cctx, func(jctx context.Context) error {
		o, err := rt.Exec(jctx, req.StudentCode)
		if err != nil {
			return err
		}
		w.ns.Replace(rt.Snapshot())
		out = o
		return nil
	})

	switch {
	case err == nil && out.Fault == nil:
		res.Status = api.StartSuccess
		res.Stdout, res.Stderr = out.Stdout, out.Stderr
	case err == nil:
		res.Status = api.StartException
		res.Stdout, res.Stderr = out.Stdout, out.Stderr
		res.ExecutionError = ptr(out.Fault.Error())
		res.ExecutionTraceback = out.Fault.Traceback
	case isTimeout(err):
		w.log.Warn("student code timed out during start", "abandoned", w.lane.Abandoned())
		res.Status = api.StartTimeout
	default:
		w.log.Error("start failed", tint.Err(err))
		res.Status = api.StartException
		res.ExecutionError = ptr(luavm.InternalError + ": " + err.Error())
		res.ExecutionTraceback = err.Error()
	}
	w.log.Debug("start handled", "status", res.Status, "names", w.ns.Len())
	return res
}

func (w *Worker) handleQuery(req api.Query) api.Message {
	res := api.QueryResult{Header: api.NewHeader(req.ID, api.QueryResultMsg)}
	e, ok := w.ns.Lookup(req.Var)
	if !ok {
		res.Status = api.QueryNotFound
		return res
	}
	res.Status = api.QuerySuccess
	res.Value = &e.Value
	return res
}

func (w *Worker) handleQueryFunction(ctx context.Context, req api.QueryFunction) api.Message {
	res := api.FunctionResult{Header: api.NewHeader(req.ID, api.FunctionResultMsg)}
	e, ok := w.ns.Lookup(req.FunctionName)
	if !ok || e.Kind != namespace.Callable || w.rt == nil {
		res.Status = api.FunctionNotFound
		return res
	}

	// The blobs were produced by the controller that owns this
	// connection; this is the only place the worker decodes them.
	args, kwargs, err := codec.DecodeArgs(codec.Blob(req.ArgsEncoded), codec.Blob(req.KwargsEncoded))
	if err != nil {
		return api.NewErrorReply(req.ID, api.CodeBadArguments, err.Error())
	}

	cctx, cancel := context.WithTimeout(ctx, w.timeout(req.QueryTimeout))
	defer cancel()

	var out luavm.Outcome
	err = w.lane.Run(cctx, func(jctx context.Context) error {
		o, err := w.rt.Call(jctx, req.FunctionName, args, kwargs)
		if err != nil {
			return err
		}
		w.ns.Replace(w.rt.Snapshot())
		out = o
		return nil
	})

	switch {
	case err == nil && out.Fault == nil:
		res.Status = api.FunctionSuccess
		res.Value = &out.Value
		res.Stdout, res.Stderr = out.Stdout, out.Stderr
	case err == nil:
		res.Status = api.FunctionException
		res.Stdout, res.Stderr = out.Stdout, out.Stderr
		res.ExceptionName = out.Fault.Name
		res.ExceptionMessage = out.Fault.Message
		res.Traceback = out.Fault.Traceback
	case errors.Is(err, luavm.ErrNotCallable):
		res.Status = api.FunctionNotFound
	case errors.Is(err, luavm.ErrUnsupported):
		return api.NewErrorReply(req.ID, api.CodeBadArguments, err.Error())
	case errors.Is(err, lane.ErrBusy):
		w.log.Warn("rejecting call, abandoned call still running", "function", req.FunctionName)
		return api.NewErrorReply(req.ID, api.CodeLaneBusy, err.Error())
	case isTimeout(err):
		w.log.Warn("call timed out", "function", req.FunctionName, "abandoned", w.lane.Abandoned())
		res.Status = api.FunctionTimeout
	default:
		w.log.Error("call failed", "function", req.FunctionName, tint.Err(err))
		res.Status = api.FunctionException
		res.ExceptionName = luavm.InternalError
		res.ExceptionMessage = err.Error()
		res.Traceback = err.Error()
	}
	return res
}

func isTimeout(err error) bool {
	return errors.Is(err, lane.ErrDeadline) || errors.Is(err, lane.ErrBusy) || errors.Is(err, luavm.ErrInterrupted)
}

func ptr[T any](v T) *T { return &v }

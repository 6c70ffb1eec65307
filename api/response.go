package api

type StartStatus string

const (
	StartSuccess    StartStatus = "success"
	StartException  StartStatus = "exception"
	StartTimeout    StartStatus = "timeout"
	StartNoResponse StartStatus = "no_response"
)

type QueryStatus string

const (
	QuerySuccess  QueryStatus = "success"
	QueryNotFound QueryStatus = "not_found"
)

type FunctionStatus string

const (
	FunctionSuccess   FunctionStatus = "success"
	FunctionException FunctionStatus = "exception"
	FunctionTimeout   FunctionStatus = "timeout"
	FunctionNotFound  FunctionStatus = "not_found"
)

// Error codes carried by ErrorReply
const (
	CodeMalformed      = "malformed"
	CodeUnknownType    = "unknown_type"
	CodeNotStarted     = "not_started"
	CodeAlreadyStarted = "already_started"
	CodeBadArguments   = "bad_arguments"
	CodeLaneBusy       = "lane_busy"
	CodeValueTooLarge  = "value_too_large"
	CodeUnauthorized   = "unauthorized"
)

// Hello is the first frame the worker writes on a fresh connection.
type Hello struct {
	Header
	ProtocolVersion int    `json:"protocol_version"`
	WorkerPid       int    `json:"worker_pid"`
	Interpreter     string `json:"interpreter"`
}

// StartResult answers Start.
type StartResult struct {
	Header
	Status             StartStatus `json:"status"`
	Stdout             string      `json:"stdout"`
	Stderr             string      `json:"stderr"`
	ExecutionError     *string     `json:"execution_error"`
	ExecutionTraceback string      `json:"execution_traceback"`
}

// QueryResult answers Query. Value is present iff Status is success.
type QueryResult struct {
	Header
	Status QueryStatus `json:"status"`
	Value  *Value      `json:"value,omitempty"`
}

// FunctionResult answers QueryFunction.
type FunctionResult struct {
	Header
	Status           FunctionStatus `json:"status"`
	Value            *Value         `json:"value,omitempty"`
	Stdout           string         `json:"stdout"`
	Stderr           string         `json:"stderr"`
	ExceptionName    string         `json:"exception_name,omitempty"`
	ExceptionMessage string         `json:"exception_message,omitempty"`
	Traceback        string         `json:"traceback,omitempty"`
}

// ErrorReply reports a protocol violation for the request with the same ID.
type ErrorReply struct {
	Header
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Goodbye acknowledges Exit.
type Goodbye struct {
	Header
}

func NewHello(pid int, interpreter string) Hello {
	return Hello{
		Header:          NewHeader(0, HelloMsg),
		ProtocolVersion: ProtocolVersion,
		WorkerPid:       pid,
		Interpreter:     interpreter,
	}
}

func NewErrorReply(id uint64, code, msg string) ErrorReply {
	return ErrorReply{
		Header:  NewHeader(id, ErrorMsg),
		Code:    code,
		Message: msg,
	}
}

func NewGoodbye(id uint64) Goodbye {
	return Goodbye{Header: NewHeader(id, GoodbyeMsg)}
}

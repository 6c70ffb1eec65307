package api

// Start asks the worker to compile and execute the student source.
type Start struct {
	Header
	StudentCode     string   `json:"student_code"`
	StudentFileName string   `json:"student_file_name"`
	InitTimeout     float64  `json:"initialization_timeout"`
	ImportWhitelist []string `json:"import_whitelist,omitempty"`
	ImportBlacklist []string `json:"import_blacklist,omitempty"`
	// Token must match the one the worker was launched with, if any.
	Token string `json:"token,omitempty"`
}

// Query asks for the value bound to Var in the namespace.
type Query struct {
	Header
	Var          string  `json:"var"`
	QueryTimeout float64 `json:"query_timeout"`
}

// QueryFunction asks the worker to call a namespace function.
//
// ArgsEncoded and KwargsEncoded are unsafe codec blobs produced by the
// controller that owns the connection.
type QueryFunction struct {
	Header
	FunctionName  string  `json:"function_name"`
	ArgsEncoded   string  `json:"args_encoded"`
	KwargsEncoded string  `json:"kwargs_encoded"`
	QueryTimeout  float64 `json:"query_timeout"`
}

// Exit asks the worker to stop its message loop.
type Exit struct {
	Header
}

func NewStart(id uint64, code, fileName string, initTimeout float64) Start {
	return Start{
		Header:          NewHeader(id, StartMsg),
		StudentCode:     code,
		StudentFileName: fileName,
		InitTimeout:     initTimeout,
	}
}

func NewQuery(id uint64, name string, timeout float64) Query {
	return Query{
		Header:       NewHeader(id, QueryMsg),
		Var:          name,
		QueryTimeout: timeout,
	}
}

func NewQueryFunction(id uint64, name, args, kwargs string, timeout float64) QueryFunction {
	return QueryFunction{
		Header:        NewHeader(id, QueryFunctionMsg),
		FunctionName:  name,
		ArgsEncoded:   args,
		KwargsEncoded: kwargs,
		QueryTimeout:  timeout,
	}
}

func NewExit(id uint64) Exit {
	return Exit{Header: NewHeader(id, ExitMsg)}
}

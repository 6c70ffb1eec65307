package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Blob is the text-safe envelope of an unsafely encoded value:
// base64(zstd(gob(value))).
//
// SECURITY: DecodeUnsafe must only be applied to blobs that the
// controller owning the connection produced with EncodeUnsafe. A blob
// must never be built from bytes that originate in sandboxed code, and
// the worker never sends blobs back. api.Value is the only type used for
// worker output and it has no path into DecodeUnsafe.
type Blob string

// MaxBlobSize bounds the decompressed size of a blob.
const MaxBlobSize = 64 << 20

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxBlobSize), zstd.WithDecoderConcurrency(0))
)

func init() {
	gob.Register([]any{})
	gob.Register(map[string]any{})
	gob.Register(Table{})
	gob.Register(Entry{})
	gob.Register(time.Time{})
}

type envelope struct {
	Value any
}

// EncodeUnsafe serializes v. Besides the JSON-native types it preserves
// int widths, []byte, Table (non-string keys, class names) and any type
// registered with gob.
func EncodeUnsafe(v any) (Blob, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Value: v}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	compressed := encoder.EncodeAll(buf.Bytes(), nil)
	return Blob(base64.StdEncoding.EncodeToString(compressed)), nil
}

// DecodeUnsafe reverses EncodeUnsafe. See the Blob security note.
func DecodeUnsafe(b Blob) (any, error) {
	if b == "" {
		return nil, nil
	}
	compressed, err := base64.StdEncoding.DecodeString(string(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env.Value, nil
}

// EncodeArgs packs positional and keyword arguments of a call.
func EncodeArgs(args []any, kwargs map[string]any) (Blob, Blob, error) {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	a, err := EncodeUnsafe(args)
	if err != nil {
		return "", "", fmt.Errorf("args: %w", err)
	}
	k, err := EncodeUnsafe(kwargs)
	if err != nil {
		return "", "", fmt.Errorf("kwargs: %w", err)
	}
	return a, k, nil
}

// DecodeArgs unpacks blobs produced by EncodeArgs.
func DecodeArgs(args, kwargs Blob) ([]any, map[string]any, error) {
	a, err := DecodeUnsafe(args)
	if err != nil {
		return nil, nil, fmt.Errorf("args: %w", err)
	}
	k, err := DecodeUnsafe(kwargs)
	if err != nil {
		return nil, nil, fmt.Errorf("kwargs: %w", err)
	}
	var (
		positional []any
		named      map[string]any
		ok         bool
	)
	if a != nil {
		if positional, ok = a.([]any); !ok {
			return nil, nil, fmt.Errorf("%w: args are %T, not a sequence", ErrMalformed, a)
		}
	}
	if k != nil {
		if named, ok = k.(map[string]any); !ok {
			return nil, nil, fmt.Errorf("%w: kwargs are %T, not a mapping", ErrMalformed, k)
		}
	}
	return positional, named, nil
}

// Package builtins registers the host-provided standard library that
// every smog program sees as ordinary callables: HTTP, crypto,
// compression, file I/O, JSON, regular expressions, randomness, and
// date/time.
//
// These were vm.VM methods in the teacher's original design, invoked
// directly by the interpreter loop. The tagged Value/Environment model
// makes them ordinary env.Scope registrants instead: each is an
// *value.ExternalFunction whose Callable follows the "documentation
// mode" dance described in pkg/value/invocation.go, so registration
// time and call time share one code path.
package builtins

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kristofer/smog/pkg/env"
	"github.com/kristofer/smog/pkg/value"
)

// Register installs the full standard library battery into scope.
func Register(scope *env.Scope) error {
	return scope.RegisterFuncs(All())
}

// All returns every builtin host function, grouped by concern.
func All() []*value.ExternalFunction {
	var fns []*value.ExternalFunction
	fns = append(fns, httpFuncs()...)
	fns = append(fns, cryptoFuncs()...)
	fns = append(fns, compressionFuncs()...)
	fns = append(fns, fileFuncs()...)
	fns = append(fns, jsonFuncs()...)
	fns = append(fns, regexFuncs()...)
	fns = append(fns, randomFuncs()...)
	fns = append(fns, dateFuncs()...)
	fns = append(fns, miscFuncs()...)
	return fns
}

// define builds an ExternalFunction whose documentation-mode call
// publishes name/sig/notes, and whose real call runs impl. impl
// reports application errors through inv.SetError rather than a Go
// error return, matching how the VM surfaces a failed CALL.
func define(name, sig, notes string, impl func(inv *value.Invocation) error) *value.ExternalFunction {
	return &value.ExternalFunction{Callable: func(inv *value.Invocation) error {
		if inv.DocMode() {
			inv.Document(value.Doc{
				Name:  name,
				Notes: notes,
				Desc:  [3]string{notes},
				Sig:   [3]string{sig},
				Has:   [3]bool{true},
			})
			return nil
		}
		return impl(inv)
	}}
}

func argString(inv *value.Invocation, i int) (string, error) {
	v, err := inv.Arg(i)
	if err != nil {
		return "", err
	}
	return v.AsString()
}

func argNumber(inv *value.Invocation, i int) (float64, error) {
	v, err := inv.Arg(i)
	if err != nil {
		return 0, err
	}
	return v.AsNumber()
}

func argInt(inv *value.Invocation, i int) (int64, error) {
	v, err := inv.Arg(i)
	if err != nil {
		return 0, err
	}
	return v.AsInt()
}

func fail(inv *value.Invocation, format string, a ...interface{}) error {
	inv.SetError(fmt.Sprintf(format, a...))
	return nil
}

// ---- HTTP ----

func httpFuncs() []*value.ExternalFunction {
	return []*value.ExternalFunction{
		define("http_get", "http_get(url)", "performs an HTTP GET request and returns the response body", func(inv *value.Invocation) error {
			url, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "http_get: %v", err)
			}
			resp, err := http.Get(url)
			if err != nil {
				return fail(inv, "http_get: %v", err)
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fail(inv, "http_get: %v", err)
			}
			inv.Result().AssignString(string(body))
			return nil
		}),
		define("http_post", "http_post(url, body)", "performs an HTTP POST request and returns the response body", func(inv *value.Invocation) error {
			url, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "http_post: %v", err)
			}
			body, err := argString(inv, 1)
			if err != nil {
				return fail(inv, "http_post: %v", err)
			}
			resp, err := http.Post(url, "text/plain", strings.NewReader(body))
			if err != nil {
				return fail(inv, "http_post: %v", err)
			}
			defer resp.Body.Close()
			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return fail(inv, "http_post: %v", err)
			}
			inv.Result().AssignString(string(respBody))
			return nil
		}),
	}
}

// ---- Crypto ----

func cryptoFuncs() []*value.ExternalFunction {
	return []*value.ExternalFunction{
		define("aes_encrypt", "aes_encrypt(data, key)", "encrypts data with AES-256-CBC under a 32-byte key, base64-encoded with a prepended IV", func(inv *value.Invocation) error {
			data, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "aes_encrypt: %v", err)
			}
			key, err := argString(inv, 1)
			if err != nil {
				return fail(inv, "aes_encrypt: %v", err)
			}
			out, err := aesEncrypt(data, key)
			if err != nil {
				return fail(inv, "aes_encrypt: %v", err)
			}
			inv.Result().AssignString(out)
			return nil
		}),
		define("aes_decrypt", "aes_decrypt(data, key)", "decrypts data produced by aes_encrypt", func(inv *value.Invocation) error {
			data, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "aes_decrypt: %v", err)
			}
			key, err := argString(inv, 1)
			if err != nil {
				return fail(inv, "aes_decrypt: %v", err)
			}
			out, err := aesDecrypt(data, key)
			if err != nil {
				return fail(inv, "aes_decrypt: %v", err)
			}
			inv.Result().AssignString(out)
			return nil
		}),
		define("aes_generate_key", "aes_generate_key()", "generates a random base64-encoded 32-byte AES-256 key", func(inv *value.Invocation) error {
			key := make([]byte, 32)
			if _, err := io.ReadFull(rand.Reader, key); err != nil {
				return fail(inv, "aes_generate_key: %v", err)
			}
			inv.Result().AssignString(base64.StdEncoding.EncodeToString(key))
			return nil
		}),
		define("sha256", "sha256(data)", "returns the hex-encoded SHA-256 digest of data", func(inv *value.Invocation) error {
			data, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "sha256: %v", err)
			}
			h := sha256.Sum256([]byte(data))
			inv.Result().AssignString(fmt.Sprintf("%x", h))
			return nil
		}),
		define("sha512", "sha512(data)", "returns the hex-encoded SHA-512 digest of data", func(inv *value.Invocation) error {
			data, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "sha512: %v", err)
			}
			h := sha512.Sum512([]byte(data))
			inv.Result().AssignString(fmt.Sprintf("%x", h))
			return nil
		}),
		define("md5", "md5(data)", "returns the hex-encoded MD5 digest of data", func(inv *value.Invocation) error {
			data, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "md5: %v", err)
			}
			h := md5.Sum([]byte(data))
			inv.Result().AssignString(fmt.Sprintf("%x", h))
			return nil
		}),
		define("base64_encode", "base64_encode(data)", "encodes data as base64", func(inv *value.Invocation) error {
			data, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "base64_encode: %v", err)
			}
			inv.Result().AssignString(base64.StdEncoding.EncodeToString([]byte(data)))
			return nil
		}),
		define("base64_decode", "base64_decode(data)", "decodes a base64 string", func(inv *value.Invocation) error {
			data, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "base64_decode: %v", err)
			}
			decoded, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				return fail(inv, "base64_decode: %v", err)
			}
			inv.Result().AssignString(string(decoded))
			return nil
		}),
	}
}

func aesEncrypt(data, key string) (string, error) {
	keyBytes := []byte(key)
	if len(keyBytes) != 32 {
		return "", fmt.Errorf("AES key must be 32 bytes, got %d", len(keyBytes))
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %v", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %v", err)
	}
	plaintext := []byte(data)
	padding := aes.BlockSize - (len(plaintext) % aes.BlockSize)
	padded := make([]byte, len(plaintext)+padding)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	result := append(iv, ciphertext...)
	return base64.StdEncoding.EncodeToString(result), nil
}

func aesDecrypt(data, key string) (string, error) {
	keyBytes := []byte(key)
	if len(keyBytes) != 32 {
		return "", fmt.Errorf("AES key must be 32 bytes, got %d", len(keyBytes))
	}
	encrypted, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %v", err)
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %v", err)
	}
	if len(encrypted) < aes.BlockSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	iv := encrypted[:aes.BlockSize]
	ciphertext := encrypted[aes.BlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	if len(plaintext) == 0 {
		return "", nil
	}
	padding := int(plaintext[len(plaintext)-1])
	if padding > len(plaintext) || padding > aes.BlockSize {
		return "", fmt.Errorf("invalid padding")
	}
	return string(plaintext[:len(plaintext)-padding]), nil
}

// ---- Compression ----

func compressionFuncs() []*value.ExternalFunction {
	return []*value.ExternalFunction{
		define("gzip_compress", "gzip_compress(data)", "compresses data with gzip, base64-encoded", func(inv *value.Invocation) error {
			data, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "gzip_compress: %v", err)
			}
			var buf bytes.Buffer
			w := gzip.NewWriter(&buf)
			if _, err := w.Write([]byte(data)); err != nil {
				return fail(inv, "gzip_compress: %v", err)
			}
			if err := w.Close(); err != nil {
				return fail(inv, "gzip_compress: %v", err)
			}
			inv.Result().AssignString(base64.StdEncoding.EncodeToString(buf.Bytes()))
			return nil
		}),
		define("gzip_decompress", "gzip_decompress(data)", "decompresses base64-encoded gzip data", func(inv *value.Invocation) error {
			data, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "gzip_decompress: %v", err)
			}
			decoded, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				return fail(inv, "gzip_decompress: %v", err)
			}
			r, err := gzip.NewReader(bytes.NewReader(decoded))
			if err != nil {
				return fail(inv, "gzip_decompress: %v", err)
			}
			defer r.Close()
			content, err := io.ReadAll(r)
			if err != nil {
				return fail(inv, "gzip_decompress: %v", err)
			}
			inv.Result().AssignString(string(content))
			return nil
		}),
		define("zip_compress", "zip_compress(data)", "wraps data as a single-entry ZIP archive, base64-encoded", func(inv *value.Invocation) error {
			data, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "zip_compress: %v", err)
			}
			var buf bytes.Buffer
			w := zip.NewWriter(&buf)
			f, err := w.Create("data")
			if err != nil {
				return fail(inv, "zip_compress: %v", err)
			}
			if _, err := f.Write([]byte(data)); err != nil {
				return fail(inv, "zip_compress: %v", err)
			}
			if err := w.Close(); err != nil {
				return fail(inv, "zip_compress: %v", err)
			}
			inv.Result().AssignString(base64.StdEncoding.EncodeToString(buf.Bytes()))
			return nil
		}),
		define("zip_decompress", "zip_decompress(data)", "reads the first entry of a base64-encoded ZIP archive produced by zip_compress", func(inv *value.Invocation) error {
			data, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "zip_decompress: %v", err)
			}
			decoded, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				return fail(inv, "zip_decompress: %v", err)
			}
			r, err := zip.NewReader(bytes.NewReader(decoded), int64(len(decoded)))
			if err != nil {
				return fail(inv, "zip_decompress: %v", err)
			}
			if len(r.File) == 0 {
				return fail(inv, "zip_decompress: archive is empty")
			}
			f, err := r.File[0].Open()
			if err != nil {
				return fail(inv, "zip_decompress: %v", err)
			}
			defer f.Close()
			content, err := io.ReadAll(f)
			if err != nil {
				return fail(inv, "zip_decompress: %v", err)
			}
			inv.Result().AssignString(string(content))
			return nil
		}),
	}
}

// ---- File I/O ----

func fileFuncs() []*value.ExternalFunction {
	return []*value.ExternalFunction{
		define("file_read", "file_read(path)", "reads an entire file's contents", func(inv *value.Invocation) error {
			path, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "file_read: %v", err)
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return fail(inv, "file_read: %v", err)
			}
			inv.Result().AssignString(string(content))
			return nil
		}),
		define("file_write", "file_write(path, content)", "writes content to a file, creating or truncating it", func(inv *value.Invocation) error {
			path, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "file_write: %v", err)
			}
			content, err := argString(inv, 1)
			if err != nil {
				return fail(inv, "file_write: %v", err)
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return fail(inv, "file_write: %v", err)
			}
			inv.Result().AssignNumber(1)
			return nil
		}),
		define("file_exists", "file_exists(path)", "reports whether a file exists", func(inv *value.Invocation) error {
			path, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "file_exists: %v", err)
			}
			_, statErr := os.Stat(path)
			if statErr == nil {
				inv.Result().AssignNumber(1)
			} else {
				inv.Result().AssignNumber(0)
			}
			return nil
		}),
		define("file_delete", "file_delete(path)", "deletes a file", func(inv *value.Invocation) error {
			path, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "file_delete: %v", err)
			}
			if err := os.Remove(path); err != nil {
				return fail(inv, "file_delete: %v", err)
			}
			inv.Result().AssignNumber(1)
			return nil
		}),
	}
}

// ---- JSON ----

func jsonFuncs() []*value.ExternalFunction {
	return []*value.ExternalFunction{
		define("json_parse", "json_parse(data)", "parses a JSON string into a value/vector/table", func(inv *value.Invocation) error {
			data, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "json_parse: %v", err)
			}
			var decoded interface{}
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				return fail(inv, "json_parse: %v", err)
			}
			jsonToValue(decoded, inv.Result())
			return nil
		}),
		define("json_generate", "json_generate(v)", "serializes a value/vector/table to a JSON string", func(inv *value.Invocation) error {
			v, err := inv.Arg(0)
			if err != nil {
				return fail(inv, "json_generate: %v", err)
			}
			encoded, err := json.Marshal(valueToJSON(v))
			if err != nil {
				return fail(inv, "json_generate: %v", err)
			}
			inv.Result().AssignString(string(encoded))
			return nil
		}),
	}
}

// jsonToValue writes a decoded JSON tree into dst, translating JSON
// arrays to vectors and JSON objects to tables.
func jsonToValue(decoded interface{}, dst *value.Value) {
	switch d := decoded.(type) {
	case nil:
		dst.Reset()
	case bool:
		if d {
			dst.AssignNumber(1)
		} else {
			dst.AssignNumber(0)
		}
	case float64:
		dst.AssignNumber(d)
	case string:
		dst.AssignString(d)
	case []interface{}:
		dst.EmptyVector()
		for _, elem := range d {
			ev := value.New()
			jsonToValue(elem, ev)
			dst.Append(ev)
		}
	case map[string]interface{}:
		dst.EmptyTable()
		for k, v := range d {
			item, _ := dst.HashItem(k)
			jsonToValue(v, item)
		}
	}
}

// valueToJSON converts a Value tree to plain Go data for json.Marshal.
func valueToJSON(v *value.Value) interface{} {
	target, err := v.Deref()
	if err != nil {
		target = v
	}
	switch target.Type() {
	case value.TypeNull:
		return nil
	case value.TypeNumber:
		return target.RawNumber()
	case value.TypeString:
		return target.RawString()
	case value.TypeVector:
		out := make([]interface{}, target.Len())
		for i := range out {
			elem, _ := target.Index(i)
			out[i] = valueToJSON(elem)
		}
		return out
	case value.TypeTable:
		out := map[string]interface{}{}
		keys, _ := target.Keys()
		for _, k := range keys {
			item, _ := target.Lookup(k)
			out[k] = valueToJSON(item)
		}
		return out
	default:
		return nil
	}
}

// ---- Regular expressions ----

func regexFuncs() []*value.ExternalFunction {
	return []*value.ExternalFunction{
		define("regex_match", "regex_match(pattern, text)", "reports whether pattern matches anywhere in text", func(inv *value.Invocation) error {
			pattern, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "regex_match: %v", err)
			}
			text, err := argString(inv, 1)
			if err != nil {
				return fail(inv, "regex_match: %v", err)
			}
			matched, err := regexp.MatchString(pattern, text)
			if err != nil {
				return fail(inv, "regex_match: %v", err)
			}
			if matched {
				inv.Result().AssignNumber(1)
			} else {
				inv.Result().AssignNumber(0)
			}
			return nil
		}),
		define("regex_find_all", "regex_find_all(pattern, text)", "returns a vector of every non-overlapping match of pattern in text", func(inv *value.Invocation) error {
			pattern, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "regex_find_all: %v", err)
			}
			text, err := argString(inv, 1)
			if err != nil {
				return fail(inv, "regex_find_all: %v", err)
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return fail(inv, "regex_find_all: %v", err)
			}
			matches := re.FindAllString(text, -1)
			inv.Result().EmptyVector()
			for _, m := range matches {
				elem := value.New()
				elem.AssignString(m)
				inv.Result().Append(elem)
			}
			return nil
		}),
		define("regex_replace", "regex_replace(pattern, text, replacement)", "replaces every match of pattern in text with replacement", func(inv *value.Invocation) error {
			pattern, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "regex_replace: %v", err)
			}
			text, err := argString(inv, 1)
			if err != nil {
				return fail(inv, "regex_replace: %v", err)
			}
			replacement, err := argString(inv, 2)
			if err != nil {
				return fail(inv, "regex_replace: %v", err)
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return fail(inv, "regex_replace: %v", err)
			}
			inv.Result().AssignString(re.ReplaceAllString(text, replacement))
			return nil
		}),
	}
}

// ---- Random ----

func randomFuncs() []*value.ExternalFunction {
	return []*value.ExternalFunction{
		define("random_int", "random_int(min, max)", "returns a cryptographically random integer in [min, max]", func(inv *value.Invocation) error {
			min, err := argInt(inv, 0)
			if err != nil {
				return fail(inv, "random_int: %v", err)
			}
			max, err := argInt(inv, 1)
			if err != nil {
				return fail(inv, "random_int: %v", err)
			}
			if min > max {
				return fail(inv, "random_int: min must be <= max")
			}
			n, err := rand.Int(rand.Reader, big.NewInt(max-min+1))
			if err != nil {
				return fail(inv, "random_int: %v", err)
			}
			inv.Result().AssignNumber(float64(n.Int64() + min))
			return nil
		}),
		define("random_float", "random_float()", "returns a cryptographically random float in [0, 1)", func(inv *value.Invocation) error {
			buf := make([]byte, 8)
			if _, err := io.ReadFull(rand.Reader, buf); err != nil {
				return fail(inv, "random_float: %v", err)
			}
			n := uint64(buf[0])<<56 | uint64(buf[1])<<48 | uint64(buf[2])<<40 | uint64(buf[3])<<32 |
				uint64(buf[4])<<24 | uint64(buf[5])<<16 | uint64(buf[6])<<8 | uint64(buf[7])
			inv.Result().AssignNumber(float64(n>>11) / float64(1<<53))
			return nil
		}),
		define("random_bytes", "random_bytes(length)", "returns length random bytes, base64-encoded", func(inv *value.Invocation) error {
			length, err := argInt(inv, 0)
			if err != nil {
				return fail(inv, "random_bytes: %v", err)
			}
			buf := make([]byte, length)
			if _, err := io.ReadFull(rand.Reader, buf); err != nil {
				return fail(inv, "random_bytes: %v", err)
			}
			inv.Result().AssignString(base64.StdEncoding.EncodeToString(buf))
			return nil
		}),
	}
}

// ---- Date and time ----

func dateFuncs() []*value.ExternalFunction {
	return []*value.ExternalFunction{
		define("date_now", "date_now()", "returns the current Unix timestamp", func(inv *value.Invocation) error {
			inv.Result().AssignNumber(float64(time.Now().Unix()))
			return nil
		}),
		define("date_format", "date_format(timestamp, format)", "formats a Unix timestamp; format is one of iso8601/date/time/datetime or a Go time layout", func(inv *value.Invocation) error {
			ts, err := argInt(inv, 0)
			if err != nil {
				return fail(inv, "date_format: %v", err)
			}
			format, err := argString(inv, 1)
			if err != nil {
				return fail(inv, "date_format: %v", err)
			}
			inv.Result().AssignString(formatTimestamp(ts, format))
			return nil
		}),
		define("date_parse", "date_parse(text, format)", "parses a date string into a Unix timestamp", func(inv *value.Invocation) error {
			text, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "date_parse: %v", err)
			}
			format, err := argString(inv, 1)
			if err != nil {
				return fail(inv, "date_parse: %v", err)
			}
			ts, err := parseTimestamp(text, format)
			if err != nil {
				return fail(inv, "date_parse: %v", err)
			}
			inv.Result().AssignNumber(float64(ts))
			return nil
		}),
		define("time_year", "time_year(timestamp)", "extracts the year from a Unix timestamp", timePart(func(t time.Time) int { return t.Year() })),
		define("time_month", "time_month(timestamp)", "extracts the month (1-12) from a Unix timestamp", timePart(func(t time.Time) int { return int(t.Month()) })),
		define("time_day", "time_day(timestamp)", "extracts the day of month from a Unix timestamp", timePart(func(t time.Time) int { return t.Day() })),
		define("time_hour", "time_hour(timestamp)", "extracts the hour from a Unix timestamp", timePart(func(t time.Time) int { return t.Hour() })),
		define("time_minute", "time_minute(timestamp)", "extracts the minute from a Unix timestamp", timePart(func(t time.Time) int { return t.Minute() })),
		define("time_second", "time_second(timestamp)", "extracts the second from a Unix timestamp", timePart(func(t time.Time) int { return t.Second() })),
	}
}

func timePart(part func(time.Time) int) func(inv *value.Invocation) error {
	return func(inv *value.Invocation) error {
		ts, err := argInt(inv, 0)
		if err != nil {
			return fail(inv, "%v", err)
		}
		inv.Result().AssignNumber(float64(part(time.Unix(ts, 0))))
		return nil
	}
}

func formatTimestamp(timestamp int64, format string) string {
	t := time.Unix(timestamp, 0)
	switch format {
	case "iso8601", "ISO8601", "rfc3339", "RFC3339":
		return t.Format(time.RFC3339)
	case "date":
		return t.Format("2006-01-02")
	case "time":
		return t.Format("15:04:05")
	case "datetime":
		return t.Format("2006-01-02 15:04:05")
	default:
		return t.Format(format)
	}
}

func parseTimestamp(text, format string) (int64, error) {
	var t time.Time
	var err error
	switch format {
	case "iso8601", "ISO8601", "rfc3339", "RFC3339":
		t, err = time.Parse(time.RFC3339, text)
	case "date":
		t, err = time.Parse("2006-01-02", text)
	case "time":
		t, err = time.Parse("15:04:05", text)
	case "datetime":
		t, err = time.Parse("2006-01-02 15:04:05", text)
	default:
		t, err = time.Parse(format, text)
	}
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// ---- Misc ----

func miscFuncs() []*value.ExternalFunction {
	return []*value.ExternalFunction{
		define("uuid", "uuid()", "returns a fresh random (v4) UUID string", func(inv *value.Invocation) error {
			inv.Result().AssignString(uuid.New().String())
			return nil
		}),
		define("print", "print(v)", "writes v's string representation to standard output, followed by a newline", func(inv *value.Invocation) error {
			s, err := argString(inv, 0)
			if err != nil {
				return fail(inv, "print: %v", err)
			}
			fmt.Println(s)
			inv.Result().Reset()
			return nil
		}),
	}
}

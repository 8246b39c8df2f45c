package endpoint

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// defaultFieldLimit caps the byte length of any decoded value unless the
// field carries its own maxLength tag.
const defaultFieldLimit = 16 * 1024

// Unmarshal fills the struct pointed to by dst from the request, driven by
// struct tags:
//
//   - `query:"name"` — URL query parameter. Repeated parameters fill slice
//     fields, otherwise the first value is used.
//   - `header:"Name"` — request header, canonicalized lookup.
//   - `body:""` or `body:",json"` — the request body. String and []byte
//     fields receive the raw bytes; any other type (or the explicit json
//     flag) is decoded as JSON and requires a JSON Content-Type. At most
//     one field may carry a body tag.
//   - `maxLength:"n"` — per-field byte limit; 0 disables it. Without the
//     tag a 16KB limit applies. Oversized values fail with 400.
//
// Fields without any of these tags are left untouched. Scalar targets may
// be string, bool, integer, unsigned, float, a pointer to one of those, or
// any type implementing encoding.TextUnmarshaler.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	pv := reflect.ValueOf(dst)
	if pv.Kind() != reflect.Pointer || pv.IsNil() {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil struct pointer"))
	}
	sv := pv.Elem()
	if sv.Kind() != reflect.Struct {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}

	query := r.URL.Query()
	st := sv.Type()
	sawBody := false

	for i := 0; i < st.NumField(); i++ {
		sf := st.Field(i)
		if sf.PkgPath != "" {
			continue
		}
		fv := sv.Field(i)

		limit, err := fieldLimit(sf)
		if err != nil {
			return err
		}

		if name, ok := tagName(sf, "query"); ok {
			vals := query[name]
			if len(vals) == 0 {
				continue
			}
			if err := assignValues(fv, vals, limit, "query", name); err != nil {
				return err
			}
			continue
		}

		if flags, ok := sf.Tag.Lookup("body"); ok {
			if sawBody {
				return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: multiple body fields, second is %s", sf.Name))
			}
			sawBody = true
			if err := decodeBody(r, fv, flags, limit); err != nil {
				return err
			}
			continue
		}

		if name, ok := tagName(sf, "header"); ok {
			vals := r.Header[http.CanonicalHeaderKey(name)]
			if len(vals) == 0 {
				continue
			}
			if err := assignValues(fv, vals, limit, "header", name); err != nil {
				return err
			}
		}
	}
	return nil
}

func tagName(sf reflect.StructField, key string) (string, bool) {
	val, ok := sf.Tag.Lookup(key)
	if !ok {
		return "", false
	}
	name, _, _ := strings.Cut(val, ",")
	name = strings.TrimSpace(name)
	if name == "-" {
		return "", false
	}
	if name == "" {
		name = strings.ToLower(sf.Name)
	}
	return name, true
}

func fieldLimit(sf reflect.StructField) (int, error) {
	val, ok := sf.Tag.Lookup("maxLength")
	if !ok {
		return defaultFieldLimit, nil
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return 0, newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: bad maxLength %q", sf.Name, val))
	}
	return n, nil
}

func decodeBody(r *http.Request, fv reflect.Value, flags string, limit int) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	ft := fv.Type()
	if ft.Kind() == reflect.Pointer {
		ft = ft.Elem()
	}
	rawTarget := ft.Kind() == reflect.String ||
		(ft.Kind() == reflect.Slice && ft.Elem().Kind() == reflect.Uint8)

	_, wantJSON, _ := strings.Cut(flags, ",")
	asJSON := strings.TrimSpace(wantJSON) == "json" || !rawTarget

	if asJSON && !bodyIsJSON(r) {
		mt := bodyMediaType(r)
		if mt == "" {
			mt = "(missing)"
		}
		return newEndpointError(http.StatusUnsupportedMediaType, "", fmt.Errorf("endpoint: decode: body: unsupported media type %s", mt))
	}

	src := io.Reader(r.Body)
	if limit > 0 {
		src = io.LimitReader(r.Body, int64(limit)+1)
	}
	b, err := io.ReadAll(src)
	if err != nil {
		return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: body: %w", err))
	}
	if limit > 0 && len(b) > limit {
		return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: body exceeds %d bytes", limit))
	}

	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		fv = fv.Elem()
	}
	if asJSON {
		if err := json.Unmarshal(b, fv.Addr().Interface()); err != nil {
			return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: body: %w", err))
		}
		return nil
	}
	if fv.Kind() == reflect.String {
		fv.SetString(string(b))
	} else {
		fv.SetBytes(b)
	}
	return nil
}

func bodyIsJSON(r *http.Request) bool {
	mt := bodyMediaType(r)
	return strings.HasPrefix(mt, "application/json") || strings.HasSuffix(mt, "+json")
}

func bodyMediaType(r *http.Request) string {
	ct := strings.TrimSpace(r.Header.Get("Content-Type"))
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(ct)
	}
	return mt
}

func assignValues(fv reflect.Value, vals []string, limit int, source, name string) error {
	for _, val := range vals {
		if limit > 0 && len(val) > limit {
			return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q exceeds %d bytes", source, name, limit))
		}
	}

	isByteSlice := fv.Kind() == reflect.Slice && fv.Type().Elem().Kind() == reflect.Uint8
	if fv.Kind() == reflect.Slice && !isByteSlice {
		out := reflect.MakeSlice(fv.Type(), 0, len(vals))
		for _, val := range vals {
			elem := reflect.New(fv.Type().Elem()).Elem()
			if err := setScalar(elem, val); err != nil {
				return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q: %w", source, name, err))
			}
			out = reflect.Append(out, elem)
		}
		fv.Set(out)
		return nil
	}

	if err := setScalar(fv, vals[0]); err != nil {
		return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q: %w", source, name, err))
	}
	return nil
}

func setScalar(fv reflect.Value, s string) error {
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		fv = fv.Elem()
	}

	if fv.CanAddr() {
		if u, ok := fv.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(s))
		}
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.Uint8 {
			fv.SetBytes([]byte(s))
			return nil
		}
		return fmt.Errorf("unsupported slice type %s", fv.Type())
	default:
		return fmt.Errorf("unsupported kind %s", fv.Kind())
	}
	return nil
}

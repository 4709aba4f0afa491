// Package xrpc implements the subset of XML-RPC the worker protocol uses:
// methodCall/methodResponse with string, int, boolean, double, array and
// struct values, plus faults. It exists because the fleet protocol is defined
// on this wire format and the discovery probe relies on fault responses still
// proving that a listener is present.
package xrpc

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

type methodCall struct {
	XMLName    xml.Name `xml:"methodCall"`
	MethodName string   `xml:"methodName"`
	Params     []param  `xml:"params>param"`
}

type methodResponse struct {
	XMLName xml.Name `xml:"methodResponse"`
	Params  []param  `xml:"params>param,omitempty"`
	Fault   *fault   `xml:"fault,omitempty"`
}

type fault struct {
	Value value `xml:"value"`
}

type param struct {
	Value value `xml:"value"`
}

type value struct {
	String  *string  `xml:"string,omitempty"`
	Int     *int64   `xml:"int,omitempty"`
	I4      *int64   `xml:"i4,omitempty"`
	Boolean *string  `xml:"boolean,omitempty"`
	Double  *float64 `xml:"double,omitempty"`
	Array   *array   `xml:"array,omitempty"`
	Struct  *xstruct `xml:"struct,omitempty"`
	Raw     string   `xml:",chardata"`
}

type array struct {
	Values []value `xml:"data>value"`
}

type xstruct struct {
	Members []member `xml:"member"`
}

type member struct {
	Name  string `xml:"name"`
	Value value  `xml:"value"`
}

// Fault is an application-level XML-RPC error. A Fault returned over the
// wire still proves an XML-RPC listener answered.
type Fault struct {
	Code   int
	Reason string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("xmlrpc fault %d: %s", f.Code, f.Reason)
}

const (
	faultMethodNotFound = -32601
	faultInternal       = -32603
)

// toValue converts a Go value into its wire representation.
func toValue(v any) (value, error) {
	switch t := v.(type) {
	case nil:
		empty := ""
		return value{String: &empty}, nil
	case string:
		return value{String: &t}, nil
	case int:
		n := int64(t)
		return value{Int: &n}, nil
	case int64:
		return value{Int: &t}, nil
	case bool:
		b := "0"
		if t {
			b = "1"
		}
		return value{Boolean: &b}, nil
	case float64:
		return value{Double: &t}, nil
	case []string:
		arr := make([]any, len(t))
		for i, s := range t {
			arr[i] = s
		}
		return toValue(arr)
	case [][]string:
		arr := make([]any, len(t))
		for i, s := range t {
			arr[i] = s
		}
		return toValue(arr)
	case []any:
		a := &array{}
		for _, item := range t {
			iv, err := toValue(item)
			if err != nil {
				return value{}, err
			}
			a.Values = append(a.Values, iv)
		}
		return value{Array: a}, nil
	case map[string]any:
		s := &xstruct{}
		for _, k := range sortedKeys(t) {
			mv, err := toValue(t[k])
			if err != nil {
				return value{}, err
			}
			s.Members = append(s.Members, member{Name: k, Value: mv})
		}
		return value{Struct: s}, nil
	default:
		return value{}, fmt.Errorf("unsupported xmlrpc type %T", v)
	}
}

// fromValue converts a wire value into string / int64 / bool / float64 /
// []any / map[string]any. A bare <value>text</value> decodes as a string.
func fromValue(v value) any {
	switch {
	case v.String != nil:
		return *v.String
	case v.Int != nil:
		return *v.Int
	case v.I4 != nil:
		return *v.I4
	case v.Boolean != nil:
		return strings.TrimSpace(*v.Boolean) == "1"
	case v.Double != nil:
		return *v.Double
	case v.Array != nil:
		out := make([]any, 0, len(v.Array.Values))
		for _, item := range v.Array.Values {
			out = append(out, fromValue(item))
		}
		return out
	case v.Struct != nil:
		out := make(map[string]any, len(v.Struct.Members))
		for _, m := range v.Struct.Members {
			out[m.Name] = fromValue(m.Value)
		}
		return out
	default:
		return strings.TrimSpace(v.Raw)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// insertion sort; member counts are tiny
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func marshalCall(method string, args []any) ([]byte, error) {
	call := methodCall{MethodName: method}
	for _, arg := range args {
		v, err := toValue(arg)
		if err != nil {
			return nil, err
		}
		call.Params = append(call.Params, param{Value: v})
	}
	body, err := xml.Marshal(call)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

func marshalResponse(result any) ([]byte, error) {
	v, err := toValue(result)
	if err != nil {
		return nil, err
	}
	resp := methodResponse{Params: []param{{Value: v}}}
	body, err := xml.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

func marshalFault(code int, reason string) []byte {
	fv, _ := toValue(map[string]any{
		"faultCode":   code,
		"faultString": reason,
	})
	resp := methodResponse{Fault: &fault{Value: fv}}
	body, _ := xml.Marshal(resp)
	return append([]byte(xml.Header), body...)
}

func unmarshalCall(data []byte) (string, []any, error) {
	var call methodCall
	if err := xml.Unmarshal(data, &call); err != nil {
		return "", nil, fmt.Errorf("parse methodCall: %w", err)
	}
	if call.MethodName == "" {
		return "", nil, fmt.Errorf("methodCall without methodName")
	}
	args := make([]any, 0, len(call.Params))
	for _, p := range call.Params {
		args = append(args, fromValue(p.Value))
	}
	return call.MethodName, args, nil
}

func unmarshalResponse(data []byte) (any, error) {
	var resp methodResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse methodResponse: %w", err)
	}
	if resp.Fault != nil {
		f := &Fault{Code: faultInternal, Reason: "unknown fault"}
		if m, ok := fromValue(resp.Fault.Value).(map[string]any); ok {
			if c, ok := m["faultCode"].(int64); ok {
				f.Code = int(c)
			}
			if s, ok := m["faultString"].(string); ok {
				f.Reason = s
			}
		}
		return nil, f
	}
	if len(resp.Params) == 0 {
		return nil, nil
	}
	return fromValue(resp.Params[0].Value), nil
}

// Int coerces a decoded value to int. XML-RPC integers arrive as int64.
func Int(v any) (int, bool) {
	switch t := v.(type) {
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}

// Strings coerces a decoded array value to a string slice, skipping
// non-string members.
func Strings(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

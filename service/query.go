package service

import (
	"encoding/json"
	"net/url"
)

// Query encoding for the document endpoints. Each query is a small JSON
// object passed as a repeated queries[] parameter.
type queryExpr struct {
	Method    string `json:"method"`
	Attribute string `json:"attribute,omitempty"`
	Values    []any  `json:"values,omitempty"`
}

func encodeQuery(method, attribute string, values ...any) string {
	q := queryExpr{Method: method, Attribute: attribute, Values: values}
	data, _ := json.Marshal(q)
	return string(data)
}

func queryEqual(attribute string, value any) string {
	return encodeQuery("equal", attribute, value)
}

func querySearch(attribute, term string) string {
	return encodeQuery("search", attribute, term)
}

func queryOrderDesc(attribute string) string {
	return encodeQuery("orderDesc", attribute)
}

func queryLimit(n int) string {
	return encodeQuery("limit", "", n)
}

func queryOffset(n int) string {
	return encodeQuery("offset", "", n)
}

// queryString builds the URL query component for a document list request.
func queryString(queries []string) string {
	if len(queries) == 0 {
		return ""
	}
	v := url.Values{}
	for _, q := range queries {
		v.Add("queries[]", q)
	}
	return "?" + v.Encode()
}

package api

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"reflect"
	"sort"
	"strings"

	"churn-service/internal/dataset"

	"github.com/go-playground/validator/v10"
)

// FieldError describes one rejected field of a request payload.
type FieldError struct {
	Type string   `json:"type"`
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
}

// ValidationError collects every problem found in a payload.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) has(field string) bool {
	for _, fe := range e.Errors {
		if len(fe.Loc) > 1 && fe.Loc[len(fe.Loc)-1] == field {
			return true
		}
	}
	return false
}

func (e *ValidationError) add(kind, field, msg string) {
	loc := []string{"body"}
	if field != "" {
		loc = append(loc, field)
	}
	e.Errors = append(e.Errors, FieldError{Type: kind, Loc: loc, Msg: msg})
}

// Error renders the client-facing summary, e.g.
// "Invalid request payload. Missing required fields: ['Age']".
func (e *ValidationError) Error() string {
	var missing, invalid []string
	for _, fe := range e.Errors {
		field := "payload"
		if len(fe.Loc) > 1 {
			field = strings.Join(fe.Loc[1:], ".")
		}
		if strings.Contains(fe.Type, "missing") {
			missing = append(missing, field)
		} else {
			invalid = append(invalid, field)
		}
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "Missing required fields: "+pyList(missing))
	}
	if len(invalid) > 0 {
		parts = append(parts, "Invalid values for fields: "+pyList(invalid))
	}

	detail := "Invalid request payload."
	if len(parts) > 0 {
		detail += " " + strings.Join(parts, " ")
	}
	return detail
}

// pyList renders a sorted, de-duplicated list as ['a', 'b'].
func pyList(values []string) string {
	seen := make(map[string]bool, len(values))
	unique := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			unique = append(unique, v)
		}
	}
	sort.Strings(unique)

	quoted := make([]string, len(unique))
	for i, v := range unique {
		quoted[i] = "'" + v + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// maxExactInt bounds integers a float64 carries exactly.
const maxExactInt = 1 << 53

var validate = newValidator()

// newValidator reports fields under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// customerRequest is the /predict and /explain payload. Pointer fields tell
// an absent field from a zero value.
type customerRequest struct {
	CustomerID     *string  `json:"CustomerID"`
	Age            *int     `json:"Age" validate:"required,gte=0,lte=120"`
	Gender         *string  `json:"Gender" validate:"required"`
	Tenure         *int     `json:"Tenure" validate:"required,gte=0,lte=2147483647"`
	MonthlyCharges *float64 `json:"MonthlyCharges" validate:"required,gte=0"`
	Contract       *string  `json:"Contract" validate:"required"`
	PaymentMethod  *string  `json:"PaymentMethod" validate:"required"`
	TotalCharges   *float64 `json:"TotalCharges" validate:"required,gte=0"`
}

func (req customerRequest) customer() dataset.Customer {
	c := dataset.Customer{
		Age:            *req.Age,
		Gender:         *req.Gender,
		Tenure:         *req.Tenure,
		MonthlyCharges: *req.MonthlyCharges,
		Contract:       *req.Contract,
		PaymentMethod:  *req.PaymentMethod,
		TotalCharges:   *req.TotalCharges,
	}
	if req.CustomerID != nil {
		c.CustomerID = *req.CustomerID
	}
	return c
}

// number accepts JSON numbers and numeric strings.
func number(raw json.RawMessage) (float64, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	v, err := n.Float64()
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func intValue(fields map[string]json.RawMessage, name string, verr *ValidationError) *int {
	raw, ok := fields[name]
	if !ok {
		return nil
	}
	v, ok := number(raw)
	if !ok || v != math.Trunc(v) || math.Abs(v) > maxExactInt {
		verr.add("int_parsing", name, "Input should be a valid integer")
		return nil
	}
	n := int(v)
	return &n
}

func floatValue(fields map[string]json.RawMessage, name string, verr *ValidationError) *float64 {
	raw, ok := fields[name]
	if !ok {
		return nil
	}
	v, ok := number(raw)
	if !ok {
		verr.add("float_parsing", name, "Input should be a valid number")
		return nil
	}
	return &v
}

func stringValue(fields map[string]json.RawMessage, name string, verr *ValidationError) *string {
	raw, ok := fields[name]
	if !ok {
		return nil
	}
	var v string
	if strings.TrimSpace(string(raw)) == "null" || json.Unmarshal(raw, &v) != nil {
		verr.add("string_type", name, "Input should be a valid string")
		return nil
	}
	return &v
}

// identifierValue accepts a string or numeric identifier and ignores
// anything else.
func identifierValue(raw json.RawMessage) *string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(string(raw)) != "null" {
		return &s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil && n != "" {
		id := n.String()
		return &id
	}
	return nil
}

// fieldErrors converts validator failures, skipping fields that already
// failed to parse.
func fieldErrors(err error, verr *ValidationError) {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		verr.add("value_error", "", err.Error())
		return
	}
	for _, fe := range errs {
		if verr.has(fe.Field()) {
			continue
		}
		switch fe.Tag() {
		case "required":
			verr.add("missing", fe.Field(), "Field required")
		case "gte":
			verr.add("greater_than_equal", fe.Field(), "Input should be greater than or equal to "+fe.Param())
		case "lte":
			verr.add("less_than_equal", fe.Field(), "Input should be less than or equal to "+fe.Param())
		case "gtefield":
			verr.add("greater_than_equal", fe.Field(), "Input should not be before "+strings.ToLower(fe.Param()))
		default:
			verr.add(fe.Tag(), fe.Field(), fe.Error())
		}
	}
}

// decodeCustomer reads a customer payload, reporting every missing or
// invalid field at once.
func decodeCustomer(body io.Reader) (dataset.Customer, error) {
	verr := &ValidationError{}

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&fields); err != nil || fields == nil {
		verr.add("json_invalid", "", "Request body must be a JSON object")
		return dataset.Customer{}, verr
	}

	req := customerRequest{
		Age:            intValue(fields, dataset.ColAge, verr),
		Gender:         stringValue(fields, dataset.ColGender, verr),
		Tenure:         intValue(fields, dataset.ColTenure, verr),
		MonthlyCharges: floatValue(fields, dataset.ColMonthlyCharges, verr),
		Contract:       stringValue(fields, dataset.ColContract, verr),
		PaymentMethod:  stringValue(fields, dataset.ColPaymentMethod, verr),
		TotalCharges:   floatValue(fields, dataset.ColTotalCharges, verr),
	}
	if raw, ok := fields[dataset.ColCustomerID]; ok {
		req.CustomerID = identifierValue(raw)
	}

	if err := validate.Struct(req); err != nil {
		fieldErrors(err, verr)
	}
	if len(verr.Errors) > 0 {
		return dataset.Customer{}, verr
	}
	return req.customer(), nil
}

package inference

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"healthrisk/ml"
)

var (
	ErrMissingField  = errors.New("missing field")
	ErrInvalidValue  = errors.New("invalid value")
	ErrShapeMismatch = ml.ErrShapeMismatch
)

// MaternalInput is the request body of a maternal-risk prediction.
type MaternalInput struct {
	Age         *float64 `json:"age" validate:"required"`
	SystolicBP  *float64 `json:"systolicBP" validate:"required"`
	DiastolicBP *float64 `json:"diastolicBP" validate:"required"`
	BloodSugar  *float64 `json:"bloodSugar" validate:"required"`
	BodyTemp    *float64 `json:"bodyTemp" validate:"required"`
	HeartRate   *float64 `json:"heartRate" validate:"required"`
}

// PatientField optionally ties a prediction to a patient in the history.
const PatientField = "patientId"

// DecodePatientID returns the optional patient id. It must be a string
// when present.
func DecodePatientID(raw map[string]interface{}) (string, error) {
	v, ok := raw[PatientField]
	if !ok || v == nil {
		return "", nil
	}
	id, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidValue, PatientField)
	}
	return strings.TrimSpace(id), nil
}

// MaternalFields lists the request fields in measurement order.
var MaternalFields = []string{"age", "systolicBP", "diastolicBP", "bloodSugar", "bodyTemp", "heartRate"}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeMaternal converts a decoded JSON object into measurements. Every
// field is required and must be a finite number.
func DecodeMaternal(raw map[string]interface{}) (ml.MaternalMeasurements, error) {
	var in MaternalInput
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &in,
	})
	if err != nil {
		return ml.MaternalMeasurements{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return ml.MaternalMeasurements{}, fmt.Errorf("%w: %s", ErrInvalidValue, decodeMessage(err))
	}

	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			names := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				names = append(names, fe.Field())
			}
			return ml.MaternalMeasurements{}, fmt.Errorf("%w: %s", ErrMissingField, strings.Join(names, ", "))
		}
		return ml.MaternalMeasurements{}, err
	}

	m := ml.MaternalMeasurements{
		Age:         *in.Age,
		SystolicBP:  *in.SystolicBP,
		DiastolicBP: *in.DiastolicBP,
		BS:          *in.BloodSugar,
		BodyTemp:    *in.BodyTemp,
		HeartRate:   *in.HeartRate,
	}
	for i, v := range ml.FeatureVector(m) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ml.MaternalMeasurements{}, fmt.Errorf("%w: %s is not finite", ErrInvalidValue, MaternalFields[i])
		}
	}
	return m, nil
}

// DecodePCOS picks the named features out of a decoded JSON object. Absent
// or null features become 0, booleans count as 1 or 0, other keys are
// ignored.
func DecodePCOS(raw map[string]interface{}, names []string) (map[string]float64, error) {
	picked := make(map[string]interface{}, len(names))
	for _, name := range names {
		if v, ok := raw[name]; ok && v != nil {
			picked[name] = v
		}
	}

	values := make(map[string]float64, len(picked))
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: boolToFloatHook,
		Result:     &values,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(picked); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidValue, decodeMessage(err))
	}
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s is not finite", ErrInvalidValue, name)
		}
	}
	return values, nil
}

func boolToFloatHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.Bool || to.Kind() != reflect.Float64 {
		return data, nil
	}
	if data.(bool) {
		return 1.0, nil
	}
	return 0.0, nil
}

// decodeMessage flattens mapstructure's multi-line error into one line.
func decodeMessage(err error) string {
	var merr *mapstructure.Error
	if errors.As(err, &merr) {
		return strings.Join(merr.Errors, "; ")
	}
	return err.Error()
}

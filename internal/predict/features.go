package predict

import (
	"reflect"
	"strings"
)

// Features is the POST /predict request body. Pointers distinguish a missing
// field from a zero value.
type Features struct {
	FixedAcidity       *float64 `json:"fixed_acidity" validate:"required"`
	VolatileAcidity    *float64 `json:"volatile_acidity" validate:"required"`
	CitricAcid         *float64 `json:"citric_acid" validate:"required"`
	ResidualSugar      *float64 `json:"residual_sugar" validate:"required"`
	Chlorides          *float64 `json:"chlorides" validate:"required"`
	FreeSulfurDioxide  *float64 `json:"free_sulfur_dioxide" validate:"required"`
	TotalSulfurDioxide *float64 `json:"total_sulfur_dioxide" validate:"required"`
	Density            *float64 `json:"density" validate:"required"`
	PH                 *float64 `json:"pH" validate:"required"`
	Sulphates          *float64 `json:"sulphates" validate:"required"`
	Alcohol            *float64 `json:"alcohol" validate:"required,lte=20"`
	Temperature        *float64 `json:"temperature" validate:"required"`
	Rain               *float64 `json:"rain" validate:"required"`
}

// Vector maps a validated request onto the training feature order:
// chemistry columns, then temperature_2m_mean and rain_sum.
func (f Features) Vector() []float64 {
	return []float64{
		*f.FixedAcidity,
		*f.VolatileAcidity,
		*f.CitricAcid,
		*f.ResidualSugar,
		*f.Chlorides,
		*f.FreeSulfurDioxide,
		*f.TotalSulfurDioxide,
		*f.Density,
		*f.PH,
		*f.Sulphates,
		*f.Alcohol,
		*f.Temperature,
		*f.Rain,
	}
}

// jsonName reports validation errors under the request's field names.
func jsonName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}
